// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config holds the resolved settings for a single Queue[T] or DynQueue
// instance, built up from Option values by NewQueue/NewDynQueue.
type config struct {
	pageSize            uintptr
	pageSource          *SystemPageSource
	producerCardinality Cardinality
	consumerCardinality Cardinality
	consistency         Consistency
}

// Option configures a Queue[T] or DynQueue at construction time.
type Option func(*config)

// WithPageSize overrides the page size a queue's own SystemPageSource
// hands out pages in. Ignored if WithPageSource is also given, since the
// page size is then fixed by the supplied source. Panics at queue
// construction time if size is not a power of two of at least the
// allocator's minimum.
func WithPageSize(size uintptr) Option {
	return func(c *config) { c.pageSize = size }
}

// WithPageSource supplies a pre-built SystemPageSource, typically shared
// across several queues to amortise region growth between them.
func WithPageSource(source *SystemPageSource) Option {
	return func(c *config) { c.pageSource = source }
}

// WithProducerCardinality selects the producer-side state machine: Single
// uses a plain bump allocator (faster, but only safe with exactly one
// producer goroutine), Multiple uses the full CAS protocol.
func WithProducerCardinality(cardinality Cardinality) Option {
	return func(c *config) { c.producerCardinality = cardinality }
}

// WithConsumerCardinality selects the consumer-side state machine,
// analogous to WithProducerCardinality.
func WithConsumerCardinality(cardinality Cardinality) Option {
	return func(c *config) { c.consumerCardinality = cardinality }
}

// WithConsistency selects the memory-order profile recorded on the queue's
// core; see queueCore.consistency and DESIGN.md for what it currently does
// and does not change.
func WithConsistency(consistency Consistency) Option {
	return func(c *config) { c.consistency = consistency }
}

func newConfig(opts []Option) *config {
	c := &config{
		pageSize:            PageSize,
		producerCardinality: Multiple,
		consumerCardinality: Multiple,
		consistency:         SeqCst,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pageSource == nil {
		c.pageSource = NewSystemPageSource(c.pageSize)
	} else {
		c.pageSize = c.pageSource.PageSize()
	}
	return c
}

// QueueConfig is a YAML-serializable mirror of the options a queue can be
// constructed with, read by cmd/hetqstat so page size and cardinality can
// be set from a file instead of flags. LoadQueueConfig, in this package,
// parses it from YAML.
type QueueConfig struct {
	PageSize            uintptr `yaml:"page_size"`
	ProducerCardinality string  `yaml:"producer_cardinality"`
	ConsumerCardinality string  `yaml:"consumer_cardinality"`
	Consistency         string  `yaml:"consistency"`
}

// LoadQueueConfig reads and parses a QueueConfig from path.
func LoadQueueConfig(path string) (*QueueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &QueueConfig{
		PageSize:            PageSize,
		ProducerCardinality: "multiple",
		ConsumerCardinality: "multiple",
		Consistency:         "seq_cst",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cardinalityFromString(s string) Cardinality {
	if s == "single" {
		return Single
	}
	return Multiple
}

func consistencyFromString(s string) Consistency {
	if s == "relaxed" {
		return Relaxed
	}
	return SeqCst
}

// Options converts the parsed config into Option values for NewQueue or
// NewDynQueue.
func (c *QueueConfig) Options() []Option {
	return []Option{
		WithPageSize(c.PageSize),
		WithProducerCardinality(cardinalityFromString(c.ProducerCardinality)),
		WithConsumerCardinality(cardinalityFromString(c.ConsumerCardinality)),
		WithConsistency(consistencyFromString(c.Consistency)),
	}
}
