package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb/maptile"
)

// =============================================================================
// State Machine Tests
// =============================================================================

func TestEntry_HappyPath(t *testing.T) {
	e := NewEntry(maptile.New(1, 2, 10), KindMapLayer)

	steps := []struct {
		name string
		do   func() bool
		want State
	}{
		{"BeginRequest", e.BeginRequest, StateRequesting},
		{"MarkRequested", e.MarkRequested, StateRequested},
		{"BeginProcessing", e.BeginProcessing, StateProcessingRequest},
		{"MarkReady", e.MarkReady, StateReady},
		{"BeginUpload", e.BeginUpload, StateUploading},
		{"FinishUpload", e.FinishUpload, StateUploaded},
		{"Lock", e.Lock, StateIsBeingUsed},
		{"Unlock", e.Unlock, StateUploaded},
		{"MarkUnloadPending", e.MarkUnloadPending, StateUnloadPending},
		{"BeginUnload", e.BeginUnload, StateUnloading},
		{"FinishUnload", e.FinishUnload, StateUnloaded},
		{"Retire", e.Retire, StateJustBeforeDeath},
	}

	for _, s := range steps {
		if !s.do() {
			t.Fatalf("%s() = false in state %v", s.name, e.State())
		}
		if got := e.State(); got != s.want {
			t.Fatalf("after %s State() = %v, want %v", s.name, got, s.want)
		}
	}
}

func TestEntry_TransitionFromWrongStateFails(t *testing.T) {
	tests := []struct {
		name  string
		setup []func(*Entry) bool
		try   func(*Entry) bool
	}{
		{"upload before ready", nil, (*Entry).BeginUpload},
		{"requested twice", []func(*Entry) bool{(*Entry).BeginRequest, (*Entry).MarkRequested}, (*Entry).MarkRequested},
		{"retire uploaded", nil, (*Entry).Retire},
		{"drop unavailable from ready", []func(*Entry) bool{
			(*Entry).BeginRequest, (*Entry).MarkRequested, (*Entry).BeginProcessing, (*Entry).MarkReady,
		}, (*Entry).DropUnavailable},
		{"cancel processing after publish", []func(*Entry) bool{
			(*Entry).BeginRequest, (*Entry).MarkRequested, (*Entry).BeginProcessing, (*Entry).MarkUnavailable,
		}, (*Entry).CancelWhileProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntry(maptile.New(0, 0, 1), KindSymbols)
			for _, step := range tt.setup {
				if !step(e) {
					t.Fatalf("setup step failed in state %v", e.State())
				}
			}
			before := e.State()
			if tt.try(e) {
				t.Fatalf("transition from %v succeeded, want failure", before)
			}
			if e.State() != before {
				t.Errorf("State() = %v after failed transition, want %v", e.State(), before)
			}
		})
	}
}

func TestEntry_FailUploadAllowsRetry(t *testing.T) {
	e := NewEntry(maptile.New(3, 3, 5), KindElevation)
	e.BeginRequest()
	e.MarkRequested()
	e.BeginProcessing()
	e.MarkReady()

	if !e.BeginUpload() {
		t.Fatal("BeginUpload() = false")
	}
	if !e.FailUpload() {
		t.Fatal("FailUpload() = false")
	}
	if e.State() != StateReady {
		t.Fatalf("State() = %v, want Ready", e.State())
	}
	if !e.BeginUpload() {
		t.Error("BeginUpload() after failure = false, want true")
	}
}

func TestEntry_CancellationPaths(t *testing.T) {
	t.Run("before processing", func(t *testing.T) {
		e := NewEntry(maptile.New(0, 0, 2), KindMapLayer)
		e.BeginRequest()
		e.MarkRequested()
		if !e.CancelBeforeProcessing() {
			t.Fatal("CancelBeforeProcessing() = false")
		}
		if e.BeginProcessing() {
			t.Error("BeginProcessing() succeeded after cancel")
		}
	})

	t.Run("while processing", func(t *testing.T) {
		e := NewEntry(maptile.New(0, 0, 2), KindMapLayer)
		e.BeginRequest()
		e.MarkRequested()
		e.BeginProcessing()
		if !e.CancelWhileProcessing() {
			t.Fatal("CancelWhileProcessing() = false")
		}
		if e.MarkReady() {
			t.Error("MarkReady() succeeded after cancel")
		}
		if !e.FinishCanceled() {
			t.Error("FinishCanceled() = false")
		}
		if !e.State().IsTerminal() {
			t.Errorf("State() = %v, want terminal", e.State())
		}
	})
}

func TestEntry_ConcurrentCASHasSingleWinner(t *testing.T) {
	e := NewEntry(maptile.New(7, 7, 7), KindMapLayer)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.BeginRequest() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("BeginRequest winners = %d, want 1", wins.Load())
	}
}

func TestEntry_RequestTask(t *testing.T) {
	e := NewEntry(maptile.New(0, 0, 0), KindMapLayer)
	ctx, cancel := context.WithCancel(context.Background())
	e.SetRequestTask(ctx, cancel)

	if !e.HasRequestTask() {
		t.Fatal("HasRequestTask() = false")
	}
	if e.RequestContext() != ctx {
		t.Error("RequestContext() is not the task context")
	}
	e.CancelRequest()
	if ctx.Err() == nil {
		t.Error("CancelRequest did not cancel the context")
	}
	e.ClearRequestTask()
	if e.HasRequestTask() || e.RequestContext() != nil {
		t.Error("request task still recorded after ClearRequestTask")
	}
}

// =============================================================================
// Transition Table Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnknown, StateRequesting, true},
		{StateRequested, StateJustBeforeDeath, true},
		{StateUploading, StateReady, true},
		{StateUploaded, StateJustBeforeDeath, false},
		{StateIsBeingUsed, StateUnloadPending, false},
		{StateJustBeforeDeath, StateUnknown, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestEntry_MethodsMatchTransitionTable checks every named transition
// against the edge table, and that every edge has a method.
func TestEntry_MethodsMatchTransitionTable(t *testing.T) {
	methods := []struct {
		name     string
		do       func(*Entry) bool
		from, to State
	}{
		{"BeginRequest", (*Entry).BeginRequest, StateUnknown, StateRequesting},
		{"MarkRequested", (*Entry).MarkRequested, StateRequesting, StateRequested},
		{"AbandonRequest", (*Entry).AbandonRequest, StateRequesting, StateJustBeforeDeath},
		{"BeginProcessing", (*Entry).BeginProcessing, StateRequested, StateProcessingRequest},
		{"CancelBeforeProcessing", (*Entry).CancelBeforeProcessing, StateRequested, StateJustBeforeDeath},
		{"MarkReady", (*Entry).MarkReady, StateProcessingRequest, StateReady},
		{"MarkUnavailable", (*Entry).MarkUnavailable, StateProcessingRequest, StateUnavailable},
		{"CancelWhileProcessing", (*Entry).CancelWhileProcessing, StateProcessingRequest, StateRequestCanceledWhileBeingProcessed},
		{"FinishCanceled", (*Entry).FinishCanceled, StateRequestCanceledWhileBeingProcessed, StateJustBeforeDeath},
		{"DropReady", (*Entry).DropReady, StateReady, StateJustBeforeDeath},
		{"DropUnavailable", (*Entry).DropUnavailable, StateUnavailable, StateJustBeforeDeath},
		{"BeginUpload", (*Entry).BeginUpload, StateReady, StateUploading},
		{"FinishUpload", (*Entry).FinishUpload, StateUploading, StateUploaded},
		{"FailUpload", (*Entry).FailUpload, StateUploading, StateReady},
		{"Lock", (*Entry).Lock, StateUploaded, StateIsBeingUsed},
		{"Unlock", (*Entry).Unlock, StateIsBeingUsed, StateUploaded},
		{"MarkUnloadPending", (*Entry).MarkUnloadPending, StateUploaded, StateUnloadPending},
		{"BeginUnload", (*Entry).BeginUnload, StateUnloadPending, StateUnloading},
		{"FinishUnload", (*Entry).FinishUnload, StateUnloading, StateUnloaded},
		{"Retire", (*Entry).Retire, StateUnloaded, StateJustBeforeDeath},
	}

	covered := make(map[[2]State]bool)
	for _, m := range methods {
		for _, from := range States() {
			e := NewEntry(maptile.New(0, 0, 1), KindMapLayer)
			e.state.Store(int32(from))
			ok := m.do(e)
			if from == m.from {
				if !ok || e.State() != m.to {
					t.Errorf("%s from %v: ok = %v, State() = %v, want %v", m.name, from, ok, e.State(), m.to)
				}
				continue
			}
			if ok || e.State() != from {
				t.Errorf("%s from %v: ok = %v, State() = %v, want no transition", m.name, from, ok, e.State())
			}
		}
		if !CanTransition(m.from, m.to) {
			t.Errorf("%s performs %v -> %v, missing from the edge table", m.name, m.from, m.to)
		}
		covered[[2]State{m.from, m.to}] = true
	}

	for from, tos := range edges {
		for _, to := range tos {
			if !covered[[2]State{from, to}] {
				t.Errorf("edge %v -> %v has no Entry method", from, to)
			}
		}
	}
}

func TestEntry_UploadFailures(t *testing.T) {
	e := NewEntry(maptile.New(0, 0, 1), KindSymbols)
	if got := e.UploadFailures(); got != 0 {
		t.Fatalf("UploadFailures() = %d, want 0", got)
	}
	e.RecordUploadFailure()
	if got := e.RecordUploadFailure(); got != 2 {
		t.Errorf("RecordUploadFailure() = %d, want 2", got)
	}
}

func TestEntry_Keyed(t *testing.T) {
	e := NewKeyedEntry(42, KindKeyedSymbols)
	key, ok := e.Key()
	if !ok || key != 42 {
		t.Errorf("Key() = %d, %v, want 42, true", key, ok)
	}
	if !e.IsKeyed() {
		t.Error("IsKeyed() = false")
	}
	if _, ok := NewEntry(maptile.New(1, 1, 1), KindSymbols).Key(); ok {
		t.Error("tiled entry reports a key")
	}
}

func TestState_TerminalHasNoEdges(t *testing.T) {
	for _, s := range States() {
		if CanTransition(StateJustBeforeDeath, s) {
			t.Errorf("JustBeforeDeath -> %v must not be legal", s)
		}
	}
}

func TestState_String(t *testing.T) {
	if got := StateRequestCanceledWhileBeingProcessed.String(); got != "RequestCanceledWhileBeingProcessed" {
		t.Errorf("String() = %q", got)
	}
	if got := State(99).String(); got != "State(99)" {
		t.Errorf("String() = %q, want State(99)", got)
	}
}

func TestKindMask(t *testing.T) {
	m := MaskOf(KindMapLayer, KindSymbols)
	if !m.Has(KindMapLayer) || !m.Has(KindSymbols) {
		t.Errorf("mask %v missing kinds", m)
	}
	if m.Has(KindElevation) {
		t.Errorf("mask %v has Elevation", m)
	}
	if got := m.String(); got != "MapLayer|Symbols" {
		t.Errorf("String() = %q, want MapLayer|Symbols", got)
	}
	if !AllKinds.Has(KindElevation) {
		t.Error("AllKinds missing Elevation")
	}
	if !AllKinds.Has(KindKeyedSymbols) {
		t.Error("AllKinds missing KeyedSymbols")
	}
	for _, k := range Kinds() {
		if k.IsKeyed() != (k == KindKeyedSymbols) {
			t.Errorf("%v.IsKeyed() = %v", k, k.IsKeyed())
		}
	}
}
