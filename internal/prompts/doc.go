// Package prompts contains the prompt templates Memu sends to the local
// language model.
//
// Prompt text is Go code rather than config because it is program logic:
// templates use fmt.Sprintf interpolation and their structure is checked
// by tests. Each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the finished
// prompt.
package prompts
