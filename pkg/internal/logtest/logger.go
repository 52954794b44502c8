/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logtest provides a logger that records what it is given, for use in tests.
package logtest

import (
	"fmt"
	"strings"
	"sync"
)

// MockLogger records every formatted line.
type MockLogger struct {
	mu    sync.Mutex
	lines []string
}

// Fatalf records the line.
func (l *MockLogger) Fatalf(msg string, args ...interface{}) { l.add("FATAL", msg, args...) }

// Panicf records the line.
func (l *MockLogger) Panicf(msg string, args ...interface{}) { l.add("PANIC", msg, args...) }

// Debugf records the line.
func (l *MockLogger) Debugf(msg string, args ...interface{}) { l.add("DEBUG", msg, args...) }

// Infof records the line.
func (l *MockLogger) Infof(msg string, args ...interface{}) { l.add("INFO", msg, args...) }

// Warnf records the line.
func (l *MockLogger) Warnf(msg string, args ...interface{}) { l.add("WARN", msg, args...) }

// Errorf records the line.
func (l *MockLogger) Errorf(msg string, args ...interface{}) { l.add("ERROR", msg, args...) }

// Lines returns the recorded lines, each prefixed with its level.
func (l *MockLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.lines...)
}

// Count returns how many recorded lines contain substr.
func (l *MockLogger) Count(substr string) int {
	n := 0

	for _, line := range l.Lines() {
		if strings.Contains(line, substr) {
			n++
		}
	}

	return n
}

func (l *MockLogger) add(level, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, args...))
}
