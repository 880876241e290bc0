// Copyright 2023 Versity Software
// This file is licensed under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package checker runs check categories against an S3 backend and
// aggregates their results.
package checker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/versity/s3compat/s3client"
	"github.com/versity/s3compat/s3err"
	"golang.org/x/sync/semaphore"
)

// Observer is told about progress. Calls are serialized by the Runner.
type Observer interface {
	CategoryStarted(c *Category)
	UnitFinished(r Result)
	CategoryFinished(c CategoryResult)
	RunFinished(s Summary)
}

type Runner struct {
	registry  *Registry
	client    *s3client.Client
	releaser  Releaser
	preflight func(context.Context) error
	settings  Settings
	enabled   func(string) bool
	parallel  int
	log       logrus.FieldLogger
	observers []Observer
	runID     string
	endpoint  string

	ledger *Ledger
	names  *Namer
	obsMu  sync.Mutex
}

type Option func(*Runner)

// WithClient sets the storage client. It is also the default preflight and
// fixture releaser.
func WithClient(c *s3client.Client) Option {
	return func(r *Runner) { r.client = c }
}
func WithSettings(s Settings) Option {
	return func(r *Runner) { r.settings = s }
}

// WithEnabled sets the predicate deciding which categories "all" selects.
func WithEnabled(f func(string) bool) Option {
	return func(r *Runner) { r.enabled = f }
}

// WithParallel runs independent categories with up to limit at a time.
// A limit below 2 keeps the run sequential.
func WithParallel(limit int) Option {
	return func(r *Runner) { r.parallel = limit }
}
func WithPreflight(f func(context.Context) error) Option {
	return func(r *Runner) { r.preflight = f }
}
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}
func WithObservers(o ...Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o...) }
}
func WithReleaser(rel Releaser) Option {
	return func(r *Runner) { r.releaser = rel }
}
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

func NewRunner(reg *Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		settings: DefaultSettings(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.client != nil {
		r.endpoint = r.client.Conf().Endpoint()
		if r.releaser == nil {
			r.releaser = r.client
		}
		if r.preflight == nil {
			r.preflight = listBuckets(r.client)
		}
	}
	if r.settings.TeardownTimeout <= 0 {
		r.settings.TeardownTimeout = DefaultSettings().TeardownTimeout
	}
	r.ledger = NewLedger(r.log)
	r.names = NewNamer(r.settings.BucketPrefix)
	return r
}

func (r *Runner) RunID() string { return r.runID }

// Ledger exposes the run's resource ledger.
func (r *Runner) Ledger() *Ledger { return r.ledger }

func listBuckets(c *s3client.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		resp := c.RequestRetry(ctx, "ListBuckets", func(ctx context.Context, opt func(*s3.Options)) error {
			_, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{}, opt)
			return err
		})
		return resp.Err
	}
}

type categoryRun struct {
	name        string
	result      CategoryResult
	ran         bool
	interrupted bool
}

// Run resolves scope and executes the selected categories. The only error
// returned is a ConfigurationError raised before any unit runs. A cancelled
// ctx yields a partial Summary of the categories that finished.
func (r *Runner) Run(ctx context.Context, scope []string) (Summary, error) {
	sum := Summary{
		RunID:     r.runID,
		Endpoint:  r.endpoint,
		StartedAt: time.Now(),
	}

	names, err := r.registry.Resolve(scope, r.enabled)
	if err != nil {
		return sum, err
	}
	cats := make([]*Category, 0, len(names))
	for _, n := range names {
		c, err := r.registry.Create(n)
		if err != nil {
			return sum, s3err.New(s3err.ErrConfiguration, "registry", err)
		}
		cats = append(cats, c)
	}

	if r.preflight != nil {
		if err := r.preflight(ctx); err != nil {
			return sum, s3err.New(s3err.ErrConfiguration, "preflight", fmt.Errorf("cannot reach backend: %w", err))
		}
	}

	defer r.releaseAll(ctx)

	var runs []categoryRun
	if r.parallel > 1 {
		runs = r.runParallel(ctx, cats)
	} else {
		runs = r.runSequential(ctx, cats)
	}

	for _, cr := range runs {
		switch {
		case cr.interrupted:
			sum.Partial = true
			sum.Interrupted = append(sum.Interrupted, cr.name)
		case cr.ran:
			sum.append(cr.result)
		default:
			sum.Partial = true
		}
	}
	sum.Duration = time.Since(sum.StartedAt)

	r.notify(func(o Observer) { o.RunFinished(sum) })
	return sum, nil
}

func (r *Runner) runSequential(ctx context.Context, cats []*Category) []categoryRun {
	runs := pending(cats)
	for i, c := range cats {
		if ctx.Err() != nil {
			break
		}
		runs[i] = r.runCategory(ctx, c)
	}
	return runs
}

// runParallel runs independent categories concurrently, then the others in
// order. Results keep registry order.
func (r *Runner) runParallel(ctx context.Context, cats []*Category) []categoryRun {
	var indep, seq []int
	for i, c := range cats {
		if c.Independent {
			indep = append(indep, i)
		} else {
			seq = append(seq, i)
		}
	}

	runs := pending(cats)
	sem := semaphore.NewWeighted(int64(r.parallel))
	var wg sync.WaitGroup
	for _, i := range indep {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			runs[i] = r.runCategory(ctx, cats[i])
		}()
	}
	wg.Wait()

	for _, i := range seq {
		if ctx.Err() != nil {
			break
		}
		runs[i] = r.runCategory(ctx, cats[i])
	}

	return runs
}

func pending(cats []*Category) []categoryRun {
	runs := make([]categoryRun, len(cats))
	for i, c := range cats {
		runs[i].name = c.Name
	}
	return runs
}

func (r *Runner) runCategory(ctx context.Context, c *Category) categoryRun {
	log := r.log.WithField("category", c.Name)
	env := &Env{
		Client:   r.client,
		Fixtures: r.ledger.Fixtures(c.Name),
		Names:    r.names,
		Settings: r.settings,
		Log:      log,
	}
	cr := CategoryResult{
		Name:        c.Name,
		Description: c.Description,
		StartedAt:   time.Now(),
	}
	run := categoryRun{name: c.Name}

	r.notify(func(o Observer) { o.CategoryStarted(c) })
	defer r.teardown(ctx, c, env)

	if err := r.setup(ctx, c, env); err != nil && ctx.Err() != nil {
		run.interrupted = true
	} else if err != nil {
		err = s3err.New(s3err.ErrFixtureSetup, c.Name, err)
		log.Warnf("setup failed, skipping %v checks: %v", len(c.Units), err)
		cr.SetupError = err.Error()
		for _, u := range c.Units {
			res := Result{
				Name:      u.Name,
				Category:  c.Name,
				Outcome:   Skipped,
				Message:   fmt.Sprintf("category setup failed: %v", err),
				StartedAt: time.Now(),
			}
			cr.add(res)
			r.notify(func(o Observer) { o.UnitFinished(res) })
		}
	} else {
		for _, u := range c.Units {
			if ctx.Err() != nil {
				run.interrupted = true
				break
			}
			res := r.runUnit(ctx, c.Name, env, u)
			if ctx.Err() != nil && res.Outcome != Pass {
				// the unit was cut short by cancellation, its verdict means nothing
				run.interrupted = true
				break
			}
			cr.add(res)
			r.notify(func(o Observer) { o.UnitFinished(res) })
		}
	}

	cr.Duration = time.Since(cr.StartedAt)
	run.result = cr
	run.ran = true
	if run.interrupted {
		log.Warn("category interrupted")
		return run
	}
	r.notify(func(o Observer) { o.CategoryFinished(cr) })
	return run
}

func (r *Runner) setup(ctx context.Context, c *Category, env *Env) (err error) {
	if c.Setup == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("setup panic: %v", p)
		}
	}()
	return c.Setup(ctx, env)
}

// runUnit executes one unit. Any fault, panics included, becomes a Fail.
func (r *Runner) runUnit(ctx context.Context, category string, env *Env, u Unit) (res Result) {
	t := newT(env, category, u.Name)
	res = Result{
		Name:      u.Name,
		Category:  category,
		StartedAt: time.Now(),
	}

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = Fail
			res.Message = fmt.Sprintf("unexpected fault: %v", p)
			t.Detail("panic", fmt.Sprint(p))
			t.Detail("stack", string(debug.Stack()))
		}
		res.Duration = time.Since(res.StartedAt)
		res.Detail = t.detail
	}()

	err := u.Run(ctx, t)
	switch {
	case err == nil:
		res.Outcome = Pass
		res.Message = t.message
	case errors.Is(err, ErrSkip):
		res.Outcome = Skipped
		res.Message = err.Error()
	default:
		res.Outcome = Fail
		res.Message = err.Error()
		if k := s3err.KindOf(err); k != s3err.ErrNone {
			t.Detail("error_kind", k.String())
		}
		if be := s3err.Classify(err); be.Status != 0 {
			t.Detail("status", be.Status)
			if be.Code != "" {
				t.Detail("error_code", be.Code)
			}
		}
	}
	return res
}

// teardown runs even when the run is cancelled. Failures are logged only.
func (r *Runner) teardown(ctx context.Context, c *Category, env *Env) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.TeardownTimeout)
	defer cancel()

	if c.Teardown != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					env.Log.Warnf("teardown panic: %v", p)
				}
			}()
			if err := c.Teardown(ctx, env); err != nil {
				env.Log.Warnf("teardown: %v", err)
			}
		}()
	}

	if !r.settings.Cleanup {
		if err := r.ledger.AbortUploads(ctx, c.Name); err != nil {
			env.Log.Warnf("abort uploads: %v", err)
		}
		env.Log.Info("cleanup disabled, keeping fixtures")
		return
	}
	if err := r.ledger.Release(ctx, r.releaser, c.Name); err != nil {
		env.Log.Warnf("cleanup: %v", err)
	}
}

// releaseAll is the last line: whatever a category left behind goes here.
func (r *Runner) releaseAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.TeardownTimeout)
	defer cancel()

	var err error
	if r.settings.Cleanup {
		err = r.ledger.Release(ctx, r.releaser, "")
	} else {
		err = r.ledger.AbortUploads(ctx, "")
	}
	if err != nil {
		r.log.Warnf("final cleanup: %v", err)
	}
}

func (r *Runner) notify(f func(Observer)) {
	if len(r.observers) == 0 {
		return
	}
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for _, o := range r.observers {
		f(o)
	}
}
