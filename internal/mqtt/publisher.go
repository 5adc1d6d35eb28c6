package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/buildinfo"
	"github.com/memu-digital/memu-bot/internal/config"
)

// Button payloads written to the command topic.
const (
	CommandBriefing     = "briefing"
	CommandCheckBackups = "check_backups"
)

// StatsSource supplies sensor values. The concrete adapter lives in
// main so this package does not depend on the store.
type StatsSource interface {
	BackupStatus(ctx context.Context) (backup.Status, error)
	PendingReminders(ctx context.Context) (int, error)
}

// Publisher manages the broker connection, discovery, state updates and
// the command topic.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	mu       sync.RWMutex
	commands map[string]func(ctx context.Context)
	limiter  *messageRateLimiter
}

// New creates a Publisher but does not connect.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "memu"
	}
	if cfg.PublishIntervalSec <= 0 {
		cfg.PublishIntervalSec = 60
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		logger:     logger,
		commands:   make(map[string]func(ctx context.Context)),
		limiter:    newMessageRateLimiter(10, time.Minute, logger),
	}
}

// Handle registers fn for a command payload. Register before Start.
func (p *Publisher) Handle(command string, fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands[command] = fn
}

// Start connects and publishes until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "memu-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.dispatch(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go p.limiter.start(ctx)
	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. Used as the connection watcher probe.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) baseTopic() string {
	return "memu/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) commandTopic() string {
	return p.baseTopic() + "/command"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type entityDef struct {
	component string
	suffix    string
	config    any
}

func (p *Publisher) sensor(suffix, name, icon string, mut func(*SensorConfig)) entityDef {
	c := SensorConfig{
		Name:              p.device.Name + " " + name,
		UniqueID:          p.instanceID + "_" + suffix,
		StateTopic:        p.stateTopic(suffix),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
	if mut != nil {
		mut(&c)
	}
	return entityDef{component: "sensor", suffix: suffix, config: c}
}

func (p *Publisher) button(suffix, name, icon, payload string) entityDef {
	return entityDef{component: "button", suffix: suffix, config: ButtonConfig{
		Name:              p.device.Name + " " + name,
		UniqueID:          p.instanceID + "_" + suffix,
		CommandTopic:      p.commandTopic(),
		PayloadPress:      payload,
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}}
}

func (p *Publisher) entities() []entityDef {
	diagnostic := func(c *SensorConfig) { c.EntityCategory = "diagnostic" }
	return []entityDef{
		p.sensor("backup_health", "Backup Health", "mdi:backup-restore", nil),
		p.sensor("last_backup", "Last Backup", "mdi:clock-check", nil),
		p.sensor("usb_days", "Days Since USB Backup", "mdi:usb-flash-drive", func(c *SensorConfig) {
			c.UnitOfMeasurement = "d"
			c.StateClass = "measurement"
		}),
		p.sensor("pending_reminders", "Pending Reminders", "mdi:bell-ring", func(c *SensorConfig) {
			c.StateClass = "measurement"
		}),
		p.sensor("uptime", "Uptime", "mdi:clock-outline", diagnostic),
		p.sensor("version", "Version", "mdi:tag", diagnostic),
		p.button("briefing", "Send Briefing", "mdi:weather-sunset-up", CommandBriefing),
		p.button("check_backups", "Check Backups", "mdi:database-check", CommandCheckBackups),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, e := range p.entities() {
		topic := p.discoveryTopic(e.component, e.suffix)
		payload, err := json.Marshal(e.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", e.suffix, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", e.suffix, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

func (p *Publisher) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.commandTopic(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt command subscribe failed", "topic", p.commandTopic(), "error", err)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// states computes every sensor value. Sources that fail leave their
// sensors out of this round.
func (p *Publisher) states(ctx context.Context) map[string]string {
	states := map[string]string{
		"uptime":  buildinfo.Uptime().String(),
		"version": buildinfo.Version,
	}
	if p.stats == nil {
		return states
	}

	if st, err := p.stats.BackupStatus(ctx); err != nil {
		p.logger.Debug("mqtt backup status unavailable", "error", err)
	} else {
		states["backup_health"] = string(st.Health)
		states["last_backup"] = st.LastBackupHuman
		if st.USBCopied {
			states["usb_days"] = strconv.Itoa(st.USBDaysAgo)
		} else {
			states["usb_days"] = "unknown"
		}
	}

	if n, err := p.stats.PendingReminders(ctx); err != nil {
		p.logger.Debug("mqtt reminder count unavailable", "error", err)
	} else {
		states["pending_reminders"] = strconv.Itoa(n)
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.states(ctx)
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
