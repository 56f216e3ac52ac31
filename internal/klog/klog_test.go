// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package klog_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/klog"
)

func TestSlogTextHandlerAtTraceLevelLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: klog.LevelTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return a
		},
	})
	l := slog.New(h)
	l.Log(nil, klog.LevelWarning, "hello")
	// This handler's ReplaceAttr hook returns every attribute unchanged, so
	// only the message is checked, not how the level is labelled.
	require.Contains(t, buf.String(), "hello")
}

func TestNewWithJSONFormatLogsAtConfiguredLevel(t *testing.T) {
	l := klog.New(klog.Config{Format: "json", Level: "warning"})
	require.NotNil(t, l)
	assert.False(t, l.Enabled(nil, klog.LevelDebug), "a warning-level logger must not log debug")
	assert.True(t, l.Enabled(nil, klog.LevelError))
}

func TestNewWithTraceLevelEnablesTrace(t *testing.T) {
	l := klog.New(klog.Config{Format: "text", Level: "trace"})
	assert.True(t, l.Enabled(nil, klog.LevelTrace))
}

func TestNewDefaultsToInfoLevelOnUnknownString(t *testing.T) {
	l := klog.New(klog.Config{Level: "not-a-level"})
	assert.True(t, l.Enabled(nil, klog.LevelInfo))
	assert.False(t, l.Enabled(nil, klog.LevelDebug))
}

func TestDefaultReturnsInstalledLogger(t *testing.T) {
	l := klog.New(klog.Config{Level: "info"})
	assert.Same(t, l, klog.Default())
}

func TestLeveledHelpersDoNotPanicWithoutArgs(t *testing.T) {
	klog.New(klog.Config{Level: "trace"})
	assert.NotPanics(t, func() {
		klog.Tracef("no args")
		klog.Debugf("value=%d", 42)
		klog.Infof("plain")
		klog.Warningf("warn %s", "case")
		klog.Errorf("err %v", assertErr)
	})
}

var assertErr = errString("boom")

type errString string

func (e errString) Error() string { return string(e) }

func TestSlogTextHandlerKeepsLiteralPercent(t *testing.T) {
	// A plain slog text handler prints a literal "%" in a message as is.
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: klog.LevelInfo})
	l := slog.New(h)
	l.Info("100% done")
	assert.True(t, strings.Contains(buf.String(), "100% done"))
}
