package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/newshack/newshack/internal/progress"
	"github.com/newshack/newshack/internal/telegram"
)

// TopicGroup is one cluster of channels under a label.
type TopicGroup struct {
	Topic    string             `json:"topic"`
	Language string             `json:"language"`
	Channels []telegram.Channel `json:"channels"`
}

// Clusterer partitions a channel set into labeled topic groups with one
// model call.
type Clusterer struct {
	gen       Generator
	bus       *progress.Bus
	validator *StructuredValidator
	log       *slog.Logger
}

// NewClusterer creates a clusterer.
func NewClusterer(gen Generator, bus *progress.Bus, log *slog.Logger) (*Clusterer, error) {
	if log == nil {
		log = slog.Default()
	}
	v, err := NewStructuredValidator(clustersSchema)
	if err != nil {
		return nil, fmt.Errorf("compile clusters schema: %w", err)
	}
	return &Clusterer{gen: gen, bus: bus, validator: v, log: log}, nil
}

// Cluster groups the channels into topics. The result is a partition: every
// input channel appears in exactly one group. A model reply that breaks the
// partition is re-prompted once, then rejected with ErrBadResponse.
func (c *Clusterer) Cluster(ctx context.Context, channels []telegram.Channel, requestID string) ([]TopicGroup, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to cluster")
	}

	c.emit(requestID, progress.Event{
		TotalChannels:  len(channels),
		CurrentChannel: "Analyzing channels",
	})

	prompt := c.buildPrompt(channels)
	raw, err := generateValidated(ctx, c.gen, c.log, prompt, c.validator)
	if err != nil {
		c.fail(requestID, err)
		return nil, err
	}

	c.emit(requestID, progress.Event{
		ProcessedChannels: len(channels),
		TotalChannels:     len(channels),
		CurrentChannel:    "Processing AI response",
	})

	groups, err := c.decodeGroups(raw, channels)
	if err != nil {
		// Schema passed but the partition is broken; one corrective retry.
		c.log.Warn("cluster response broke the partition, re-prompting", "error", err)
		retryPrompt := fmt.Sprintf(
			"Your previous response was invalid: %v\n"+
				"Every input channel id must appear in exactly one group. Respond again.\n\n%s",
			err, prompt)
		raw, genErr := generateValidated(ctx, c.gen, c.log, retryPrompt, c.validator)
		if genErr != nil {
			c.fail(requestID, genErr)
			return nil, genErr
		}
		groups, err = c.decodeGroups(raw, channels)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrBadResponse, err)
			c.fail(requestID, err)
			return nil, err
		}
	}

	if c.bus != nil {
		c.bus.Complete(requestID)
	}
	c.log.Info("channels clustered", "channels", len(channels), "groups", len(groups))
	return groups, nil
}

func (c *Clusterer) emit(requestID string, ev progress.Event) {
	if c.bus != nil && requestID != "" {
		c.bus.Emit(requestID, ev)
	}
}

func (c *Clusterer) fail(requestID string, err error) {
	if c.bus != nil && requestID != "" {
		c.bus.Fail(requestID, err.Error())
	}
}

func (c *Clusterer) buildPrompt(channels []telegram.Channel) string {
	payload, _ := json.Marshal(channels)

	var b strings.Builder
	b.WriteString("Group the following channels into topics. Detect the dominant language\n")
	b.WriteString("of each group (ISO-639-1 code). Every channel must appear in exactly one\n")
	b.WriteString("group, with its fields carried over unchanged.\n\nChannels:\n")
	b.Write(payload)
	b.WriteString("\n\nRespond with ONLY valid JSON matching this schema:\n")
	b.Write(c.validator.SchemaJSON())
	return b.String()
}

// decodeGroups parses the validated reply and checks it forms a partition of
// the input. Channel fields are restored from the input by id, so the model
// cannot corrupt them.
func (c *Clusterer) decodeGroups(raw string, input []telegram.Channel) ([]TopicGroup, error) {
	var parsed struct {
		Topics []TopicGroup `json:"topics"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode clusters: %w", err)
	}

	byID := make(map[string]telegram.Channel, len(input))
	for _, ch := range input {
		byID[ch.ID] = ch
	}

	seen := make(map[string]struct{}, len(input))
	for gi, g := range parsed.Topics {
		for ci, ch := range g.Channels {
			full, ok := byID[ch.ID]
			if !ok {
				return nil, fmt.Errorf("group %q references unknown channel id %q", g.Topic, ch.ID)
			}
			if _, dup := seen[ch.ID]; dup {
				return nil, fmt.Errorf("channel id %q appears in more than one group", ch.ID)
			}
			seen[ch.ID] = struct{}{}
			parsed.Topics[gi].Channels[ci] = full
		}
	}
	if len(seen) != len(byID) {
		missing := make([]string, 0)
		for id := range byID {
			if _, ok := seen[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("response omitted channel ids %v", missing)
	}
	return parsed.Topics, nil
}
