package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the oracle prompt and model parameters
type PromptConfig struct {
	Proposal struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"proposal"`
}

const defaultSystemPrompt = `You are the reasoning step of an autonomous office assistant.
Read the task and the company's policy documents, then propose exactly one next action.
Respond with a single JSON object and nothing else, with these fields:
  action_type: one of email_reply, email_send, whatsapp_reply, file_operation, file_delete,
               calendar_event, payment, social_post, new_contact_message, lark_message, custom
  confidence: number between 0 and 1
  requires_approval: boolean, true if a human should check before anything is sent
  reasoning: one or two sentences
  details: object with the parameters the action needs (e.g. to, subject, body, path)
  title: short label (optional)
  policy_references: list of policy sections you relied on (optional)`

const defaultUserTemplate = `{{range .Policies}}## Policy: {{.Name}}
{{.Content}}

{{end}}## Task {{.TaskID}}
{{.TaskText}}`

// DefaultPrompts returns the built-in prompt configuration
func DefaultPrompts() *PromptConfig {
	var p PromptConfig
	p.Proposal.Temperature = 0.2
	p.Proposal.MaxTokens = 1024
	p.Proposal.System = defaultSystemPrompt
	p.Proposal.UserTemplate = defaultUserTemplate
	return &p
}

// LoadPrompts loads prompt configuration from a YAML file. Fields the file
// leaves empty keep their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	if _, err := template.New("check").Parse(prompts.Proposal.UserTemplate); err != nil {
		return nil, fmt.Errorf("invalid user_template: %w", err)
	}
	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
