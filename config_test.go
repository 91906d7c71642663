// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"os"
	"path/filepath"
	"testing"

	"code.hybscloud.com/hetq"
)

func TestLoadQueueConfig_DefaultsWhenFieldsOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.yaml")
	if err := os.WriteFile(path, []byte("page_size: 8192\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := hetq.LoadQueueConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("got page size %d, want 8192", cfg.PageSize)
	}
	if cfg.ProducerCardinality != "multiple" {
		t.Fatalf("expected default producer cardinality, got %q", cfg.ProducerCardinality)
	}
}

func TestLoadQueueConfig_MissingFile(t *testing.T) {
	if _, err := hetq.LoadQueueConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestQueueConfig_OptionsProducesWorkingQueue(t *testing.T) {
	cfg := &hetq.QueueConfig{
		PageSize:            4096,
		ProducerCardinality: "single",
		ConsumerCardinality: "single",
	}
	q := hetq.NewQueue[int](cfg.Options()...)
	if err := q.Push(42); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got, ok := q.TryPop(); !ok || got != 42 {
		t.Fatalf("got %d ok=%v, want 42", got, ok)
	}
}
