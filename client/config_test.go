// File: client/config_test.go
// Package client: defaults applied to a partial Config.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"testing"
	"time"
)

func TestWithDefaultsFillsTimeouts(t *testing.T) {
	c := Config{ConnectTimeout: 3 * time.Second}.withDefaults()
	if c.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v", c.WriteTimeout)
	}
	if c.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v", c.ReadTimeout)
	}
	if c.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v", c.HandshakeTimeout)
	}
	if c.Path != "/" || c.PollInterval != time.Millisecond || c.Logger == nil {
		t.Errorf("got %+v", c)
	}
}
