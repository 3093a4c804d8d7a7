// Copyright 2025 The extentfs Authors. All Rights Reserved.
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

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirect sends the package logger to a buffer at the given severity
// and restores it afterwards.
func redirect(t *testing.T, buf *bytes.Buffer, severity string) {
	t.Helper()

	old := defaultLogger
	t.Cleanup(func() { defaultLogger = old })

	require.NoError(t, setLevel(severity))
	defaultLogger = slog.New(newTextHandler(buf, programLevel))
}

func TestSeverityFiltering(t *testing.T) {
	var buf bytes.Buffer
	redirect(t, &buf, "warning")

	Tracef("t")
	Debugf("d")
	Infof("i")
	Warnf("w %d", 1)
	Errorf("e %s", "boom")

	out := buf.String()
	assert.NotContains(t, out, "severity=TRACE")
	assert.NotContains(t, out, "severity=DEBUG")
	assert.NotContains(t, out, "severity=INFO")
	assert.Contains(t, out, "severity=WARNING")
	assert.Contains(t, out, `msg="w 1"`)
	assert.Contains(t, out, "severity=ERROR")
	assert.Contains(t, out, `msg="e boom"`)
}

func TestTraceSeverityEnablesEverything(t *testing.T) {
	var buf bytes.Buffer
	redirect(t, &buf, "trace")

	Tracef("very detailed")

	assert.Contains(t, buf.String(), "severity=TRACE")
	assert.Contains(t, buf.String(), "very detailed")
}

func TestOffSilencesEverything(t *testing.T) {
	var buf bytes.Buffer
	redirect(t, &buf, "off")

	Errorf("even this")

	assert.Empty(t, buf.String())
}

func TestUnknownSeverityIsRejected(t *testing.T) {
	assert.Error(t, setLevel("shout"))
}
