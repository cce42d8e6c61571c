package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/config"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/grid"
	"github.com/danielpatrickdp/gridzone/internal/metrics"
	"github.com/danielpatrickdp/gridzone/internal/replay"
	"github.com/danielpatrickdp/gridzone/internal/scenario"
)

// #region components

// components is everything a run needs, built from one Config.
type components struct {
	network   *grid.Network
	generator *scenario.Generator
	encoder   encoder.Encoder
	agent     *agent.Agent
	ctrl      *curriculum.Controller
	safety    *curriculum.SafetyMonitor
	store     *checkpoint.Store
	harness   *replay.Harness

	closers []io.Closer
}

// buildComponents opens the run database and constructs every collaborator.
func buildComponents(c *config.Config) (*components, error) {
	out := &components{}
	ok := false
	defer func() {
		if !ok {
			out.Close()
		}
	}()

	net, err := grid.Case(c.Network.Case)
	if err != nil {
		return nil, err
	}
	out.network = net

	out.generator, err = scenario.NewGenerator(net, c.ScenarioConfig())
	if err != nil {
		return nil, err
	}

	out.encoder, err = newEncoder(c)
	if err != nil {
		return nil, err
	}
	if cl, isCloser := out.encoder.(io.Closer); isCloser {
		out.closers = append(out.closers, cl)
	}

	out.agent, err = agent.New(c.AgentConfig(), out.encoder.Dim())
	if err != nil {
		return nil, err
	}
	out.ctrl, err = curriculum.NewController(c.CurriculumConfig())
	if err != nil {
		return nil, err
	}
	out.safety, err = curriculum.NewSafetyMonitor(c.SafetyConfig())
	if err != nil {
		return nil, err
	}

	out.store, err = checkpoint.Open(c.Run.Database)
	if err != nil {
		return nil, err
	}
	out.closers = append(out.closers, out.store)

	out.harness, err = replay.NewHarness(replay.Config{
		Scenarios:  c.Evaluation.Scenarios,
		StartIndex: c.Evaluation.StartIndex,
		Seed:       c.Run.Seed,
	}, out.generator, c.EnvConfig(), out.encoder, c.SuccessCriteria)
	if err != nil {
		return nil, err
	}

	ok = true
	return out, nil
}

func newEncoder(c *config.Config) (encoder.Encoder, error) {
	switch c.Encoder.Kind {
	case "remote":
		r, err := encoder.NewRemote(c.Encoder.RemoteAddr, c.Encoder.Dim, c.Encoder.RemoteTimeout)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "local":
		p, err := encoder.NewPropagation(c.PropagationConfig())
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown encoder kind %q", c.Encoder.Kind)
}

// Close releases the database and any remote connection.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// #endregion components

// #region sinks

// buildSink fans episode records out to SQLite and, when reg is non-nil,
// Prometheus.
func buildSink(c *config.Config, store *checkpoint.Store, reg prometheus.Registerer) (metrics.Sink, *metrics.SQLiteSink, error) {
	var sinks metrics.Multi
	var sq *metrics.SQLiteSink
	if c.Metrics.SQLite {
		s, err := metrics.NewSQLiteSink(store.DB())
		if err != nil {
			return nil, nil, err
		}
		sq = s
		sinks = append(sinks, s)
	}
	if reg != nil {
		p, err := metrics.NewPrometheusSink(reg)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, p)
	}
	return sinks, sq, nil
}

// #endregion sinks
