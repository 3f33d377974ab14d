// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"time"

	"github.com/featurebasedb/colbench/logger"
)

// StatsClient represents a client to a stats server.
type StatsClient interface {
	// Returns a sorted list of tags on the client.
	Tags() []string

	// Returns a new client with additional tags appended.
	WithTags(tags ...string) StatsClient

	// Tracks the number of times something occurs per second.
	Count(name string, value int64, rate float64)

	// Sets the value of a metric.
	Gauge(name string, value float64, rate float64)

	// Tracks timing information for a metric.
	Timing(name string, value time.Duration, rate float64)

	// SetLogger sets the logger for the client.
	SetLogger(logger logger.Logger)

	// Starts the service.
	Open()

	// Closes the client.
	Close() error
}

// NopStatsClient represents a StatsClient that doesn't do anything.
var NopStatsClient StatsClient = &nopStatsClient{}

type nopStatsClient struct{}

func (c *nopStatsClient) Tags() []string { return nil }

func (c *nopStatsClient) WithTags(tags ...string) StatsClient { return c }

func (c *nopStatsClient) Count(name string, value int64, rate float64) {}

func (c *nopStatsClient) Gauge(name string, value float64, rate float64) {}

func (c *nopStatsClient) Timing(name string, value time.Duration, rate float64) {}

func (c *nopStatsClient) SetLogger(logger logger.Logger) {}

func (c *nopStatsClient) Open() {}

func (c *nopStatsClient) Close() error { return nil }
