package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/api"
	"github.com/mpapenbr/racestate-live/pkg/circuit"
	"github.com/mpapenbr/racestate-live/pkg/config"
	"github.com/mpapenbr/racestate-live/pkg/lifecycle"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/poller"
	"github.com/mpapenbr/racestate-live/pkg/processing"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
	"github.com/mpapenbr/racestate-live/pkg/store"
	"github.com/mpapenbr/racestate-live/pkg/stream"
)

var ErrNoSession = errors.New("no session available")

// pipeline wires store, poller, stream client, lifecycle controller and processor
type pipeline struct {
	store      *store.Store
	poller     *poller.Poller
	stream     *stream.Client
	controller *lifecycle.Controller
	processor  *processing.Processor
	l          *log.Logger
	closeOnce  sync.Once
}

type pipelineOptions struct {
	client      *api.Client
	cfg         config.Config
	circuitFile string
	sessionID   string
	l           *log.Logger
}

//nolint:funlen // wiring
func newPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	l := opts.l
	drivers, err := opts.client.GetDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	sessions, err := opts.client.GetSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	c, err := circuit.Resolve(ctx, opts.client, opts.circuitFile)
	if err != nil {
		return nil, fmt.Errorf("load circuit: %w", err)
	}
	l.Info("reference data loaded",
		log.Int("drivers", len(drivers)),
		log.Int("sessions", len(sessions)),
		log.Int("circuitPoints", len(c.Points)))

	s := store.New(store.WithLogger(l.Named("store")))
	s.SetSessions(sessions)
	if err := s.SetRoster(drivers); err != nil {
		return nil, err
	}
	if err := s.SetCircuit(*c); err != nil {
		return nil, err
	}

	p := poller.New(opts.client, s,
		poller.WithInterval(opts.cfg.PollInterval),
		poller.WithUnreliableAfter(opts.cfg.UnreliableAfter),
		poller.WithLogger(l.Named("poller")))
	sc := stream.New(opts.client.LiveURL, s,
		stream.WithBackoff(opts.cfg.ReconnectBase, opts.cfg.ReconnectMax),
		stream.WithJitter(opts.cfg.ReconnectJitter),
		stream.WithLocation(opts.cfg.BackendLocation),
		stream.WithLogger(l.Named("stream")))
	proc := processing.NewProcessor(s,
		processing.WithViewOptions(race.WithBattleThreshold(opts.cfg.BattleThreshold)),
		processing.WithLogger(l.Named("processor")))
	ret := &pipeline{
		store:      s,
		poller:     p,
		stream:     sc,
		controller: lifecycle.New(s, p, sc, lifecycle.WithLogger(l.Named("lifecycle"))),
		processor:  proc,
		l:          l,
	}
	proc.Start(ctx)
	return ret, nil
}

// selectSession returns the requested session or the first live one
func selectSession(sessions []model.Session, requested string) (string, error) {
	if requested != "" {
		if _, ok := lo.Find(sessions, func(s model.Session) bool {
			return s.ID == requested
		}); !ok && len(sessions) > 0 {
			return "", fmt.Errorf("%w: %s", store.ErrUnknownSession, requested)
		}
		return requested, nil
	}
	if s, ok := lo.Find(sessions, func(s model.Session) bool { return s.IsLive() }); ok {
		return s.ID, nil
	}
	return "", ErrNoSession
}

func (p *pipeline) activateInitial(requested string) error {
	id, err := selectSession(p.store.Sessions(), requested)
	if err != nil {
		return err
	}
	_, err = p.controller.Activate(id)
	return err
}

func (p *pipeline) close() {
	p.closeOnce.Do(func() {
		p.controller.Deactivate()
		p.processor.Stop()
		p.store.Close()
	})
}

// summary is a compact single line leaderboard for logging
func summary(v *race.RaceView) string {
	if len(v.Entries) == 0 {
		return "no data yet"
	}
	parts := lo.Map(v.Entries, func(e race.Entry, _ int) string {
		name := e.Driver.ID
		if e.Driver.Number > 0 {
			name = fmt.Sprintf("#%d %s", e.Driver.Number, e.Driver.ID)
		}
		return fmt.Sprintf("P%d %s %s", e.Position, name, e.Gap)
	})
	return strings.Join(parts, " | ")
}
