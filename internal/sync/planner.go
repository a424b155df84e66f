package sync

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/state"
)

// PlanInput is everything the planner looks at. Source and Target hold
// slash-separated paths relative to the tool roots.
type PlanInput struct {
	Tool      *config.ToolConfig
	Direction Direction
	Source    mapset.Set[string]
	Target    mapset.Set[string]
	State     *state.SyncState
	Inspector Inspector
}

// BuildPlan classifies every path found on either side. It reads file
// content through the Inspector and never modifies anything.
func BuildPlan(in PlanInput) (*Plan, error) {
	if in.Tool == nil || in.Inspector == nil {
		return nil, fmt.Errorf("plan input requires a tool and an inspector")
	}
	src, tgt := in.Source, in.Target
	if src == nil {
		src = mapset.NewThreadUnsafeSet[string]()
	}
	if tgt == nil {
		tgt = mapset.NewThreadUnsafeSet[string]()
	}

	p := &planner{in: in, plan: &Plan{Tool: in.Tool.Name, Direction: in.Direction}}

	paths := src.Union(tgt).ToSlice()
	sort.Strings(paths)

	for _, rel := range paths {
		var err error
		inSrc, inTgt := src.Contains(rel), tgt.Contains(rel)
		switch in.Direction {
		case Push:
			err = p.push(rel, inSrc, inTgt)
		case Pull:
			err = p.pull(rel, inSrc, inTgt)
		case Bidirectional:
			err = p.bidirectional(rel, inSrc, inTgt)
		default:
			return nil, fmt.Errorf("unsupported direction %s", in.Direction)
		}
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", rel, err)
		}
	}
	return p.plan, nil
}

type planner struct {
	in   PlanInput
	plan *Plan
}

func (p *planner) pair(rel string) Pair {
	return toolPair(p.in.Tool, rel)
}

func (p *planner) tracked(rel string) (state.FileState, bool) {
	if p.in.State == nil {
		return state.FileState{}, false
	}
	return p.in.State.File(state.QualifiedPath(p.in.Tool.Name, rel))
}

func (p *planner) copy(rel string, from Side) {
	p.plan.Copies = append(p.plan.Copies, p.pair(rel).copyFrom(from))
}

func (p *planner) delete(rel string, side Side) {
	p.plan.Deletes = append(p.plan.Deletes, DeleteAction{
		Rel:  rel,
		Side: side,
		Path: p.pair(rel).path(side),
	})
}

func (p *planner) push(rel string, inSrc, inTgt bool) error {
	switch {
	case inSrc && !inTgt:
		p.copy(rel, Source)
	case !inSrc && inTgt:
		if _, ok := p.tracked(rel); ok {
			p.delete(rel, Target)
			return nil
		}
		pr := p.pair(rel)
		p.plan.Orphans = append(p.plan.Orphans, Orphan{Rel: rel, Path: pr.TargetPath})
	case inSrc && inTgt:
		equal, err := p.in.Inspector.Equal(rel)
		if err != nil || equal {
			return err
		}
		pr := p.pair(rel)
		if pr.Special == nil {
			newer, err := p.targetNewer(rel)
			if err != nil {
				return err
			}
			if newer {
				p.plan.ReverseSuggestions = append(p.plan.ReverseSuggestions, pr)
				return nil
			}
		}
		p.plan.Copies = append(p.plan.Copies, pr.copyFrom(Source))
	}
	return nil
}

func (p *planner) pull(rel string, inSrc, inTgt bool) error {
	switch {
	case inTgt && !inSrc:
		p.copy(rel, Target)
	case inSrc && !inTgt:
		// never synchronized: the file only exists in source and is left alone
		if _, ok := p.tracked(rel); ok {
			p.delete(rel, Source)
		}
	case inSrc && inTgt:
		equal, err := p.in.Inspector.Equal(rel)
		if err != nil || equal {
			return err
		}
		p.copy(rel, Target)
	}
	return nil
}

func (p *planner) bidirectional(rel string, inSrc, inTgt bool) error {
	fs, tracked := p.tracked(rel)
	switch {
	case inSrc && !inTgt:
		if tracked {
			p.delete(rel, Source)
		} else {
			p.copy(rel, Source)
		}
	case inTgt && !inSrc:
		if tracked {
			p.delete(rel, Target)
		} else {
			p.copy(rel, Target)
		}
	case inSrc && inTgt:
		equal, err := p.in.Inspector.Equal(rel)
		if err != nil || equal {
			return err
		}
		if !tracked {
			p.plan.Conflicts = append(p.plan.Conflicts, p.pair(rel))
			return nil
		}
		srcSum, err := p.in.Inspector.Fingerprint(Source, rel)
		if err != nil {
			return err
		}
		tgtSum, err := p.in.Inspector.Fingerprint(Target, rel)
		if err != nil {
			return err
		}
		srcChanged, tgtChanged := srcSum != fs.Checksum, tgtSum != fs.Checksum
		switch {
		case srcChanged && !tgtChanged:
			p.copy(rel, Source)
		case tgtChanged && !srcChanged:
			p.copy(rel, Target)
		default:
			p.plan.Conflicts = append(p.plan.Conflicts, p.pair(rel))
		}
	}
	return nil
}

// targetNewer applies the strictly-newer tie-break.
func (p *planner) targetNewer(rel string) (bool, error) {
	srcTime, err := p.in.Inspector.ModTime(Source, rel)
	if err != nil {
		return false, err
	}
	tgtTime, err := p.in.Inspector.ModTime(Target, rel)
	if err != nil {
		return false, err
	}
	return tgtTime.After(srcTime), nil
}
