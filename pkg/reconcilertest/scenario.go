package reconcilertest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

// New returns a scenario reconciling the object called name. S is the
// state shared by the setup, the conditions and the actions.
func New[S any](name string) Scenario[S] {
	return &scenario[S]{
		request: reconcile.Request{NamespacedName: types.NamespacedName{Name: name}},
	}
}

type Scenario[S any] interface {
	Setup(func(t *testing.T) (reconcile.Reconciler, S)) _reconcileLoop[S]
}

type _reconcileLoop[S any] interface {
	_reconcileLeaf
	ReconcileUntil(f func(state S) bool, labels ...string) _reconcileAction[S]
}

type _reconcileAction[S any] interface {
	_reconcileLoop[S]
	Then(f func(t *testing.T, state S), labels ...string) _reconcileLoop[S]
}

type _reconcileLeaf interface {
	Testable
	Case() Testable
}

type Testable interface {
	Test(t *testing.T)
}

// ---------------------------------

type reconcileHandler[S any] struct {
	waitFor      func(state S) bool
	waitForLabel string

	action      func(t *testing.T, state S)
	actionLabel string
}

type scenario[S any] struct {
	request      reconcile.Request
	setupHandler func(t *testing.T) (reconcile.Reconciler, S)
	handlers     []reconcileHandler[S]
}

func (s *scenario[S]) Setup(sh func(t *testing.T) (reconcile.Reconciler, S)) _reconcileLoop[S] {
	s.setupHandler = sh
	return s
}

func (s *scenario[S]) ReconcileUntil(waitFor func(state S) bool, labels ...string) _reconcileAction[S] {
	s.handlers = append(s.handlers, reconcileHandler[S]{
		waitFor:      waitFor,
		waitForLabel: strings.Join(labels, ", "),
	})
	return s
}

func (s *scenario[S]) Then(action func(t *testing.T, state S), labels ...string) _reconcileLoop[S] {
	s.handlers[len(s.handlers)-1].action = action
	s.handlers[len(s.handlers)-1].actionLabel = strings.Join(labels, ", ")
	return s
}

func (s *scenario[S]) Case() Testable {
	return s
}

func (s *scenario[S]) Test(t *testing.T) {
	if len(s.handlers) == 0 {
		t.Fatal("no reconcile condition defined")
	}

	reconciler, state := s.setupHandler(t)

	maxReconciles := 20
	stepIndex := 0
	loopCounter := 0

	nextStep := s.handlers[stepIndex]
	for {
		_, err := reconciler.Reconcile(context.TODO(), s.request)
		if err != nil {
			assert.NoError(t, err)
			t.FailNow()
		}

		if nextStep.waitFor(state) {
			if nextStep.action != nil {
				nextStep.action(t, state)
			}

			if stepIndex == len(s.handlers)-1 {
				break
			}

			stepIndex++
			loopCounter = 0
			nextStep = s.handlers[stepIndex]
		}

		loopCounter++
		if loopCounter >= maxReconciles {
			label := s.handlers[stepIndex].waitForLabel
			if label == "" {
				label = fmt.Sprintf("waiting condition #%s", strconv.Itoa(stepIndex))
			}
			t.Fatalf("`%s` not satisfied, too many reconcile loops", label)
		}
	}
}
