package hdfproxy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// -----------------------------------------------------------------------------
// Boxes
// -----------------------------------------------------------------------------

// Box is the region [Starts, Starts+Counts) of an array.
type Box struct {
	Starts []int64
	Counts []int64
}

// Elements returns the number of elements inside the box.
func (b Box) Elements() int64 { return elementCount(b.Counts) }

// ChunkRequest is a box inside an array of shape TotalCounts.
type ChunkRequest struct {
	TotalCounts []int64
	Starts      []int64
	Counts      []int64
}

// Validate checks that the request describes a box inside the array:
// equal lengths, non-negative values, starts[i]+counts[i] <= totalCounts[i]
// and an element count that fits in an int64.
func (r ChunkRequest) Validate() error {
	n := len(r.TotalCounts)
	if len(r.Starts) != n || len(r.Counts) != n {
		return fmt.Errorf("hdfproxy: %d total counts, %d starts, %d counts: %w",
			n, len(r.Starts), len(r.Counts), ErrInvalidChunk)
	}
	for i := range n {
		if r.TotalCounts[i] < 0 || r.Starts[i] < 0 || r.Counts[i] < 0 {
			return fmt.Errorf("hdfproxy: negative extent in dimension %d: %w", i, ErrInvalidChunk)
		}
		if r.Counts[i] > r.TotalCounts[i]-r.Starts[i] {
			return fmt.Errorf("hdfproxy: dimension %d: start %d + count %d exceeds %d: %w",
				i, r.Starts[i], r.Counts[i], r.TotalCounts[i], ErrInvalidChunk)
		}
	}
	if _, ok := ElementCount(r.TotalCounts); !ok {
		return fmt.Errorf("hdfproxy: total counts %v overflow the element count: %w", r.TotalCounts, ErrInvalidChunk)
	}
	return nil
}

// Leaf is a box small enough to travel in one message.
type Leaf struct {
	Box

	// Depth is the number of splits that produced the leaf.
	Depth int
}

// SplitPolicy decides where an oversized box is cut.
type SplitPolicy int

const (
	// SplitHalve cuts the split axis in two halves, first = count/2.
	SplitHalve SplitPolicy = iota

	// SplitPack cuts off the largest run of rows along the split axis that
	// still fits the ceiling, which minimizes the number of leaves.
	SplitPack
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitHalve:
		return "halve"
	case SplitPack:
		return "pack"
	default:
		return "unknown"
	}
}

// ParseSplitPolicy parses "halve" or "pack".
func ParseSplitPolicy(s string) (SplitPolicy, error) {
	switch s {
	case "halve", "":
		return SplitHalve, nil
	case "pack":
		return SplitPack, nil
	default:
		return 0, fmt.Errorf("hdfproxy: split policy %q: %w", s, ErrInvalidArgument)
	}
}

// -----------------------------------------------------------------------------
// Planning
// -----------------------------------------------------------------------------

// PlanChunks splits the requested box into leaves whose payload,
// elements × elementSize, is at most ceiling bytes.
//
// The split axis is the first dimension whose count is still above one, so
// every split strictly shrinks a count and planning terminates whenever
// ceiling >= elementSize. Leaves tile the box exactly and come out in
// ascending order along the split axes.
func PlanChunks(req ChunkRequest, elementSize int, ceiling int64, policy SplitPolicy) ([]Leaf, error) {
	var leaves []Leaf
	err := walkChunks(req, elementSize, ceiling, policy, func(l Leaf) error {
		leaves = append(leaves, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

type chunkTask struct {
	starts []int64
	counts []int64
	depth  int
}

// walkChunks runs the divide-and-conquer split on an explicit stack and
// calls visit for each leaf. A visit error stops the walk.
func walkChunks(req ChunkRequest, elementSize int, ceiling int64, policy SplitPolicy, visit func(Leaf) error) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if elementSize <= 0 {
		return fmt.Errorf("hdfproxy: element size %d: %w", elementSize, ErrInvalidArgument)
	}
	if ceiling < int64(elementSize) {
		return fmt.Errorf("hdfproxy: ceiling %d < element size %d: %w", ceiling, elementSize, ErrCeilingTooSmall)
	}

	size := int64(elementSize)
	stack := []chunkTask{{starts: clone(req.Starts), counts: clone(req.Counts)}}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if elementCount(t.counts) == 0 {
			continue
		}
		if boxBytes(t.counts, size) <= ceiling {
			leaf := Leaf{Box: Box{Starts: clone(t.starts), Counts: clone(t.counts)}, Depth: t.depth}
			if err := visit(leaf); err != nil {
				return err
			}
			continue
		}

		// A box of all-one counts weighs one element, which fits, so an
		// axis with count > 1 exists here.
		axis := splitAxis(t.counts)
		first := splitPoint(policy, t.counts, axis, size, ceiling)

		head := chunkTask{
			starts: t.starts,
			counts: with(t.counts, axis, first),
			depth:  t.depth + 1,
		}
		tail := chunkTask{
			starts: with(t.starts, axis, t.starts[axis]+first),
			counts: with(t.counts, axis, t.counts[axis]-first),
			depth:  t.depth + 1,
		}
		stack = append(stack, tail, head)
	}
	return nil
}

func splitAxis(counts []int64) int {
	for i, c := range counts {
		if c > 1 {
			return i
		}
	}
	return 0
}

func splitPoint(policy SplitPolicy, counts []int64, axis int, size, ceiling int64) int64 {
	count := counts[axis]
	if policy != SplitPack {
		return count / 2
	}
	rowBytes := boxBytes(counts[axis+1:], size)
	rows := ceiling / rowBytes
	switch {
	case rows < 1:
		return 1
	case rows >= count:
		return count / 2
	default:
		return rows
	}
}

// boxBytes returns elements × size, saturating at math.MaxInt64.
func boxBytes(counts []int64, size int64) int64 {
	total := size
	for _, c := range counts {
		if c != 0 && total > math.MaxInt64/c {
			return math.MaxInt64
		}
		total *= c
	}
	return total
}

func clone(s []int64) []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}

// with returns a copy of s with s[i] = v.
func with(s []int64, i int, v int64) []int64 {
	out := clone(s)
	out[i] = v
	return out
}

// -----------------------------------------------------------------------------
// Writing
// -----------------------------------------------------------------------------

// Chunker writes an oversized box as a series of PutDataSubarrays messages.
//
// Leaf messages are fire-and-forget: when SplitAndWrite returns, every leaf
// has been accepted by the channel, not confirmed by the remote side.
type Chunker struct {
	// Channel receives the leaf messages. REQUIRED.
	Channel Channel

	// MaxArraySize is the payload ceiling in source bytes. REQUIRED.
	MaxArraySize int64

	// Policy selects where boxes are cut. Default: SplitHalve.
	Policy SplitPolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics Metrics
}

// SplitAndWrite sends the box of req taken from values, an array of
// datatype dt and shape req.TotalCounts stored in row-major order.
// It returns the number of leaf messages sent.
//
// A failed send aborts the walk; leaves already sent are not retracted.
func (c *Chunker) SplitAndWrite(ctx context.Context, id ArrayIdentifier, req ChunkRequest, dt Datatype, values any) (int, error) {
	codec, err := lookup(dt)
	if err != nil {
		return 0, err
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if err := checkValues(codec, dt, values, int(elementCount(req.TotalCounts))); err != nil {
		return 0, err
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := c.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	start := time.Now()
	sent := 0
	err = walkChunks(req, codec.size(), c.MaxArraySize, c.Policy, func(l Leaf) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := codec.gather(values, req.TotalCounts, l.Starts, l.Counts)
		n := int(l.Elements())
		msg := PutDataSubarrays{
			ID:     id,
			Starts: l.Starts,
			Counts: l.Counts,
			Data:   codec.pack(sub, n),
		}
		if err := c.Channel.Send(ctx, msg, HeaderFor(msg)); err != nil {
			return &ProtocolError{Op: MsgPutDataSubarrays.String(), Err: err}
		}
		sent++
		payload := l.Elements() * int64(codec.size())
		metrics.RecordSend(MsgPutDataSubarrays, payload)
		metrics.RecordLeaf(l.Elements())
		logger.Debug("sent subarray",
			"path", id.PathInResource,
			"starts", l.Starts,
			"counts", l.Counts,
			"depth", l.Depth)
		return nil
	})
	if err != nil {
		return sent, fmt.Errorf("hdfproxy: writing subarrays of %s: %w", id.PathInResource, err)
	}

	logger.Info("wrote subarrays",
		"path", id.PathInResource,
		"leaves", sent,
		"elapsed", time.Since(start))
	return sent, nil
}
