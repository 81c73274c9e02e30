package fastview

import (
	"context"
	"errors"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// ViewBuilder wires a data model source to several views sharing one view-model.
type ViewBuilder[DataModel any, ViewModel any] struct {
	source      <-chan DataModel
	viewModelFn func(DataModel) ViewModel
	builderFns  []ViewBuilderFunc[ViewModel]
	batchRate   time.Duration
	done        <-chan struct{} // nil never closes
}

// ViewBuilderFunc builds a view from its view-model chan; done closes on teardown.
type ViewBuilderFunc[ViewModel any] func(done <-chan struct{}, models <-chan ViewModel) ViewComponent

func NewViewBuilder[DataModel any, ViewModel any]() *ViewBuilder[DataModel, ViewModel] {
	return &ViewBuilder[DataModel, ViewModel]{batchRate: DEFAULT_BATCH_RATE}
}

// WithModel sets the source and the conversion to the view-model.
func (vb *ViewBuilder[DataModel, ViewModel]) WithModel(
	source <-chan DataModel,
	convert func(DataModel) ViewModel,
) *ViewBuilder[DataModel, ViewModel] {
	vb.source = source
	vb.viewModelFn = convert
	return vb
}

// WithView adds a view. Views are returned by Build in the order added.
func (vb *ViewBuilder[DataModel, ViewModel]) WithView(
	builderFn ViewBuilderFunc[ViewModel],
) *ViewBuilder[DataModel, ViewModel] {
	vb.builderFns = append(vb.builderFns, builderFn)
	return vb
}

// WithContext closes every downstream chan once ctx is done.
func (vb *ViewBuilder[DataModel, ViewModel]) WithContext(
	ctx context.Context,
) *ViewBuilder[DataModel, ViewModel] {
	vb.done = ctx.Done()
	return vb
}

// WithBatchRate sets the window over which element updates are coalesced.
func (vb *ViewBuilder[DataModel, ViewModel]) WithBatchRate(
	rate time.Duration,
) *ViewBuilder[DataModel, ViewModel] {
	vb.batchRate = rate
	return vb
}

var (
	// ErrNoViews is returned by Build when WithView was never called.
	ErrNoViews = errors.New("no views to build: WithView must be called")
	// ErrNoModel is returned by Build when WithModel was never called.
	ErrNoModel = errors.New("no model specified: WithModel must be called")
)

// Build connects the source to every view and returns the views along with
// a single batched chan of all their element updates.
func (vb *ViewBuilder[DataModel, ViewModel]) Build() (
	views []ViewComponent,
	updates <-chan []EleUpdate,
	err error,
) {
	if len(vb.builderFns) == 0 {
		return nil, nil, ErrNoViews
	}
	if vb.viewModelFn == nil || vb.source == nil {
		return nil, nil, ErrNoModel
	}

	vmChan := channerics.Convert(vb.done, vb.source, vb.viewModelFn)
	vmChans := channerics.Broadcast(vb.done, vmChan, len(vb.builderFns))
	inputs := make([]<-chan []EleUpdate, 0, len(vb.builderFns))
	for i, build := range vb.builderFns {
		view := build(vb.done, vmChans[i])
		views = append(views, view)
		inputs = append(inputs, view.Updates())
	}

	updates = Batch(vb.done, channerics.Merge(vb.done, inputs...), vb.batchRate)
	return
}

// DEFAULT_BATCH_RATE is the coalescing window used unless WithBatchRate is called.
const DEFAULT_BATCH_RATE = 20 * time.Millisecond

// Batch coalesces updates received within rate of each other, keeping only the
// latest update per element id. A batch is sent at most rate after its first
// update arrived, whether or not more updates follow; pending updates are also
// flushed when source closes. A non-positive rate sends every receive as is.
func Batch(
	done <-chan struct{},
	source <-chan []EleUpdate,
	rate time.Duration,
) <-chan []EleUpdate {
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		pending := map[string]EleUpdate{}
		order := []string{}
		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			batch := make([]EleUpdate, 0, len(order))
			for _, id := range order {
				batch = append(batch, pending[id])
			}
			select {
			case output <- batch:
				pending = map[string]EleUpdate{}
				order = order[:0]
				return true
			case <-done:
				return false
			}
		}

		// due is nil while nothing is pending.
		var timer *time.Timer
		var due <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-done:
				return
			case updates, ok := <-source:
				if !ok {
					flush()
					return
				}
				for _, update := range updates {
					if _, seen := pending[update.EleId]; !seen {
						order = append(order, update.EleId)
					}
					pending[update.EleId] = update
				}

				if rate <= 0 {
					if !flush() {
						return
					}
					continue
				}
				if due == nil && len(pending) > 0 {
					if timer == nil {
						timer = time.NewTimer(rate)
					} else {
						timer.Reset(rate)
					}
					due = timer.C
				}
			case <-due:
				due = nil
				if !flush() {
					return
				}
			}
		}
	}()

	return output
}
