package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nialab/neuropipe/pkg/domain"
	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/utils/cmp"
)

func recordingNode(name string, log *[]string, ins, outs []string) *domain.Node {
	return &domain.Node{
		Name:    name,
		Inputs:  ins,
		Outputs: outs,
		Fn: func(ctx context.Context, in domain.Values) (domain.Values, error) {
			*log = append(*log, name)
			out := domain.Values{}
			for _, o := range outs {
				v := name
				for _, i := range ins {
					v += "(" + in[i] + ")"
				}
				out[o] = v
			}
			return out, nil
		},
	}
}

func TestGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("nodes execute in dependency order and values flow along edges", func(t *testing.T) {
		g := domain.NewGraph()
		log := []string{}

		// register sink before its producer to prove ordering is by edges
		if err := g.Add(recordingNode("late", &log, []string{"in"}, []string{"out"})); err != nil {
			t.Fatal(err)
		}
		if err := g.Add(recordingNode("early", &log, []string{"in"}, []string{"out"})); err != nil {
			t.Fatal(err)
		}
		if err := g.Connect("early", "out", "late", "in"); err != nil {
			t.Fatal(err)
		}

		produced, err := g.Execute(ctx, map[domain.Port]string{
			{Node: "early", Name: "in"}: "seed",
		})
		if err != nil {
			t.Fatal(err)
		}

		if !cmp.SliceEq(log, []string{"early", "late"}) {
			t.Errorf("execution order is wrong. (actual, expected) = (%v, [early late])", log)
		}
		got := produced[domain.Port{Node: "late", Name: "out"}]
		if got != "late(early(seed))" {
			t.Errorf("value did not flow through. got %s", got)
		}
	})

	t.Run("adding the same node twice is rejected", func(t *testing.T) {
		g := domain.NewGraph()
		log := []string{}
		if err := g.Add(recordingNode("n", &log, nil, nil)); err != nil {
			t.Fatal(err)
		}
		if err := g.Add(recordingNode("n", &log, nil, nil)); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("connecting unknown nodes or ports is rejected", func(t *testing.T) {
		g := domain.NewGraph()
		log := []string{}
		if err := g.Add(recordingNode("a", &log, []string{"in"}, []string{"out"})); err != nil {
			t.Fatal(err)
		}

		if err := g.Connect("missing", "out", "a", "in"); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("unknown source node should be rejected, got %v", err)
		}
		if err := g.Connect("a", "nope", "a", "in"); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("unknown source port should be rejected, got %v", err)
		}
	})

	t.Run("a cycle among nodes fails execution", func(t *testing.T) {
		g := domain.NewGraph()
		log := []string{}
		if err := g.Add(recordingNode("a", &log, []string{"in"}, []string{"out"})); err != nil {
			t.Fatal(err)
		}
		if err := g.Add(recordingNode("b", &log, []string{"in"}, []string{"out"})); err != nil {
			t.Fatal(err)
		}
		if err := g.Connect("a", "out", "b", "in"); err != nil {
			t.Fatal(err)
		}
		if err := g.Connect("b", "out", "a", "in"); err != nil {
			t.Fatal(err)
		}

		if _, err := g.Execute(ctx, nil); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error for cyclic graph, got %v", err)
		}
	})

	t.Run("a failing node aborts execution naming the node", func(t *testing.T) {
		g := domain.NewGraph()
		boom := errors.New("boom")
		if err := g.Add(&domain.Node{
			Name: "exploding",
			Fn: func(ctx context.Context, in domain.Values) (domain.Values, error) {
				return nil, boom
			},
		}); err != nil {
			t.Fatal(err)
		}

		_, err := g.Execute(ctx, nil)
		if !errors.Is(err, boom) {
			t.Errorf("node error should be wrapped, got %v", err)
		}
	})
}
