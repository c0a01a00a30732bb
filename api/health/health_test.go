// Copyright (C) 2020-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package health_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagrider/node/api/health"
)

type funcCheck func(context.Context) (interface{}, error)

func (f funcCheck) Health(ctx context.Context) (interface{}, error) { return f(ctx) }

func TestRegistryReportsHealthyWhenEveryCheckPasses(t *testing.T) {
	r := health.NewRegistry()
	r.Register("a", funcCheck(func(context.Context) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))
	r.Register("b", funcCheck(func(context.Context) (interface{}, error) {
		return nil, nil
	}))

	report := r.Check(context.Background())
	require.True(t, report.Healthy)
	require.Len(t, report.Checks, 2)
	for _, c := range report.Checks {
		require.True(t, c.Healthy)
		require.Empty(t, c.Error)
	}
}

func TestRegistryReportsUnhealthyWhenOneCheckFails(t *testing.T) {
	r := health.NewRegistry()
	r.Register("good", funcCheck(func(context.Context) (interface{}, error) {
		return nil, nil
	}))
	r.Register("bad", funcCheck(func(context.Context) (interface{}, error) {
		return nil, errors.New("stalled")
	}))

	report := r.Check(context.Background())
	require.False(t, report.Healthy)

	var sawBad bool
	for _, c := range report.Checks {
		if c.Name == "bad" {
			sawBad = true
			require.False(t, c.Healthy)
			require.Equal(t, "stalled", c.Error)
		}
	}
	require.True(t, sawBad)
}

func TestRegistryReRegisterReplacesCheck(t *testing.T) {
	r := health.NewRegistry()
	r.Register("x", funcCheck(func(context.Context) (interface{}, error) {
		return nil, errors.New("first")
	}))
	r.Register("x", funcCheck(func(context.Context) (interface{}, error) {
		return nil, nil
	}))

	report := r.Check(context.Background())
	require.True(t, report.Healthy)
	require.Len(t, report.Checks, 1)
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	r := health.NewRegistry()
	report := r.Check(context.Background())
	require.True(t, report.Healthy)
	require.Empty(t, report.Checks)
}
