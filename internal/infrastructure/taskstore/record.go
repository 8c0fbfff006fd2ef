package taskstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

const (
	frontMatterDelim = "---"
	actionHeading    = "## Proposed Action"
	actionFence      = "```fte-action"
	fenceEnd         = "```"
)

// header is the YAML front matter of a task record.
type header struct {
	ID         string         `yaml:"id"`
	Source     string         `yaml:"source"`
	Priority   string         `yaml:"priority"`
	Status     string         `yaml:"status"`
	Created    time.Time      `yaml:"created"`
	Sender     string         `yaml:"sender,omitempty"`
	Title      string         `yaml:"title"`
	RetryCount int            `yaml:"retry_count"`
	LastError  string         `yaml:"last_error,omitempty"`
	Payload    map[string]any `yaml:"payload,omitempty"`
}

// encodeRecord renders a task as Markdown with YAML front matter. Status is
// written for human readers only; decodeRecord ignores it.
func encodeRecord(task *entity.Task, partition entity.Partition) ([]byte, error) {
	h := header{
		ID:         task.ID,
		Source:     task.Source,
		Priority:   string(task.Priority),
		Status:     string(partition),
		Created:    task.CreatedAt.UTC(),
		Sender:     task.Sender,
		Title:      task.Title,
		RetryCount: task.RetryCount,
		LastError:  task.LastError,
		Payload:    task.Payload,
	}

	head, err := yaml.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(head)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(strings.Trim(task.Content, "\n"))
	buf.WriteString("\n")

	if task.ProposedAction != nil {
		body, err := json.MarshalIndent(task.ProposedAction, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proposed action: %w", err)
		}
		buf.WriteString("\n" + actionHeading + "\n\n")
		buf.WriteString(actionFence + "\n")
		buf.Write(body)
		buf.WriteString("\n" + fenceEnd + "\n")
	}

	return buf.Bytes(), nil
}

// decodeRecord parses a task record. Files without front matter are accepted
// as plain notes so hand-written drops still load.
func decodeRecord(id string, data []byte, partition entity.Partition) (*entity.Task, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	task := &entity.Task{ID: id, Status: partition}

	body := text
	if strings.HasPrefix(text, frontMatterDelim+"\n") {
		rest := text[len(frontMatterDelim)+1:]
		end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
		if end < 0 {
			return nil, fmt.Errorf("unterminated front matter in %s", id)
		}

		var h header
		if err := yaml.Unmarshal([]byte(rest[:end+1]), &h); err != nil {
			return nil, fmt.Errorf("failed to parse front matter in %s: %w", id, err)
		}
		if h.ID != "" && h.ID != id {
			return nil, fmt.Errorf("record %s declares id %q", id, h.ID)
		}

		task.Source = h.Source
		task.Priority = entity.Priority(h.Priority)
		task.CreatedAt = h.Created
		task.Sender = h.Sender
		task.Title = h.Title
		task.RetryCount = h.RetryCount
		task.LastError = h.LastError
		task.Payload = h.Payload

		body = rest[end+len(frontMatterDelim)+2:]
	}

	content, action, err := splitAction(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proposed action in %s: %w", id, err)
	}
	task.Content = content
	task.ProposedAction = action

	if !task.Priority.IsValid() {
		task.Priority = entity.PriorityP3
	}
	return task, nil
}

// splitAction separates the free-text body from a trailing fenced action block.
func splitAction(body string) (string, *entity.ProposedAction, error) {
	start := strings.LastIndex(body, actionFence+"\n")
	if start < 0 {
		return strings.Trim(body, "\n"), nil, nil
	}

	block := body[start+len(actionFence)+1:]
	end := strings.LastIndex(block, "\n"+fenceEnd)
	if end < 0 {
		return "", nil, fmt.Errorf("unterminated %s block", actionFence)
	}

	var action entity.ProposedAction
	if err := json.Unmarshal([]byte(block[:end]), &action); err != nil {
		return "", nil, err
	}

	content := strings.TrimRight(body[:start], "\n")
	content = strings.TrimSuffix(content, actionHeading)
	return strings.Trim(content, "\n"), &action, nil
}
