package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

var errNegativeIncrease = errors.New("negative increase")

type hidden struct{}

type conventionCounter struct {
	value int
}

func (c *conventionCounter) WhenCreated(e created) {
	c.value = e.initial
}

func (c *conventionCounter) WhenIncreased(_ context.Context, e increased) error {
	if e.by < 0 {
		return errNegativeIncrease
	}

	c.value += e.by

	return nil
}

func (c *conventionCounter) whenHidden(_ hidden) {
	c.value = -1
}

func (c *conventionCounter) OnCreated(_ created) {
	c.value = -2
}

type recorder struct {
	calls []string
}

type onlyInBase struct{}

type baseHandlers struct {
	rec *recorder
}

func (b baseHandlers) WhenBaseCreated(_ created) {
	b.rec.calls = append(b.rec.calls, "base")
}

func (b baseHandlers) WhenOnlyInBase(_ onlyInBase) {
	b.rec.calls = append(b.rec.calls, "base-only")
}

type derivedHandlers struct {
	baseHandlers
}

func (d derivedHandlers) WhenDerivedCreated(_ created) {
	d.rec.calls = append(d.rec.calls, "derived")
}

type legacyHandlers struct {
	rec *recorder
}

func (l *legacyHandlers) WhenCreated(_ created) {
	l.rec.calls = append(l.rec.calls, "legacy")
}

func (l *legacyHandlers) WhenCreatedLegacy(_ created) {
	l.rec.calls = append(l.rec.calls, "legacy-compat")
}

type overridingHandlers struct {
	legacyHandlers
}

func (o *overridingHandlers) WhenCreated(_ created) {
	o.rec.calls = append(o.rec.calls, "override")
}

type ambiguousHandlers struct{}

func (ambiguousHandlers) WhenCreatedFirst(_ created) {}

func (ambiguousHandlers) WhenCreatedSecond(_ created) {}

type logRecord struct {
	level string
	msg   string
}

type loggerSpy struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *loggerSpy) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, logRecord{level: level, msg: msg})
}

func (l *loggerSpy) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *loggerSpy) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *loggerSpy) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *loggerSpy) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *loggerSpy) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, r := range l.records {
		if r.msg == msg {
			n++
		}
	}

	return n
}

func Test_Convention_When_MethodMatchesTheEventType_ItIsInvoked(t *testing.T) {
	// arrange
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""))
	c := &conventionCounter{}

	// act
	createErr := table.Route(context.Background(), c, created{initial: 8})
	increaseErr := table.Route(context.Background(), c, increased{by: 5})

	// assert
	require.NoError(t, createErr)
	require.NoError(t, increaseErr)
	assert.Equal(t, 13, c.value)
}

func Test_Convention_When_HandlerReturnsAnError_ItIsPropagated(t *testing.T) {
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""))

	err := table.Route(context.Background(), &conventionCounter{}, increased{by: -1})

	assert.ErrorIs(t, err, errNegativeIncrease)
}

func Test_Convention_When_MethodIsUnexported_ItIsNotEligible(t *testing.T) {
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""))
	c := &conventionCounter{}

	err := table.Route(context.Background(), c, hidden{})

	assert.ErrorIs(t, err, dispatch.ErrHandlerNotFound)
	assert.Equal(t, 0, c.value)
}

func Test_Convention_When_PrefixIsCustom_OnlyMatchingMethodsAreEligible(t *testing.T) {
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers("On"))
	c := &conventionCounter{}

	createErr := table.Route(context.Background(), c, created{initial: 8})
	increaseErr := table.Route(context.Background(), c, increased{by: 1})

	require.NoError(t, createErr)
	assert.Equal(t, -2, c.value)
	assert.ErrorIs(t, increaseErr, dispatch.ErrHandlerNotFound)
}

func Test_Convention_When_ConventionsAreDisabled_MethodsAreIgnored(t *testing.T) {
	table := dispatch.NewTable[*conventionCounter]()

	err := table.Route(context.Background(), &conventionCounter{}, created{initial: 8})

	assert.ErrorIs(t, err, dispatch.ErrHandlerNotFound)
}

func Test_Convention_When_ExplicitHandlerExists_ItTakesPrecedence(t *testing.T) {
	// arrange
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""))
	require.NoError(t, dispatch.On(table, func(c *conventionCounter, e created) error {
		c.value = e.initial * 100
		return nil
	}))
	c := &conventionCounter{}

	// act
	err := table.Route(context.Background(), c, created{initial: 2})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 200, c.value)
}

func Test_Convention_When_OuterAndEmbeddedTypeMatch_TheOuterMethodWins(t *testing.T) {
	// arrange
	rec := &recorder{}
	table := dispatch.NewTable[derivedHandlers](dispatch.WithConventionHandlers(""))
	receiver := derivedHandlers{baseHandlers{rec: rec}}

	// act
	createdErr := table.Route(context.Background(), receiver, created{})
	baseOnlyErr := table.Route(context.Background(), receiver, onlyInBase{})

	// assert
	require.NoError(t, createdErr)
	require.NoError(t, baseOnlyErr)
	assert.Equal(t, []string{"derived", "base-only"}, rec.calls)
}

func Test_Convention_When_OuterMethodShadowsAnEmbeddedOne_TheOuterMethodWins(t *testing.T) {
	// arrange
	rec := &recorder{}
	table := dispatch.NewTable[*overridingHandlers](dispatch.WithConventionHandlers("When"))
	receiver := &overridingHandlers{legacyHandlers{rec: rec}}

	// act
	err := table.Route(context.Background(), receiver, created{})

	// assert
	require.NoError(t, err)
	assert.Equal(t, []string{"override"}, rec.calls)
}

func Test_Convention_When_TwoMethodsAtTheSameDepthMatch_ItFailsAsAmbiguous(t *testing.T) {
	table := dispatch.NewTable[ambiguousHandlers](dispatch.WithConventionHandlers(""))

	err := table.Route(context.Background(), ambiguousHandlers{}, created{})

	assert.ErrorIs(t, err, dispatch.ErrAmbiguousHandler)
}

func Test_Convention_When_ReceiverIsNil_ItFails(t *testing.T) {
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""))

	err := table.Route(context.Background(), nil, created{})

	assert.ErrorIs(t, err, dispatch.ErrNilReceiver)
}

func Test_Convention_When_ResolvedConcurrently_ThePopulationHappensOnce(t *testing.T) {
	// arrange
	logger := &loggerSpy{}
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""), dispatch.WithLogger(logger))

	// act
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.Route(context.Background(), &conventionCounter{}, created{initial: 1})
		}()
	}
	wg.Wait()

	// assert
	assert.Equal(t, 1, logger.count("convention handler resolved"))
}

func Test_Convention_When_LookupFailed_TheNegativeResultIsCached(t *testing.T) {
	logger := &loggerSpy{}
	table := dispatch.NewTable[*conventionCounter](dispatch.WithConventionHandlers(""), dispatch.WithLogger(logger))

	_ = table.Route(context.Background(), &conventionCounter{}, notHandled{})
	_ = table.Route(context.Background(), &conventionCounter{}, notHandled{})

	assert.Equal(t, 1, logger.count("no convention handler for event type"))
}
