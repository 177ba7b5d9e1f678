package report

import "fmt"

// Policy is one guideline set within an archive.
type Policy struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Archive is a dated release of the rule engine and its policies.
type Archive struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Version  string   `json:"version,omitempty" yaml:"version"`
	Latest   bool     `json:"latest,omitempty" yaml:"latest"`
	Policies []Policy `json:"policies" yaml:"policies"`
}

// Policy returns the policy with the given id, nil if absent.
func (a *Archive) Policy(id string) *Policy {
	for i := range a.Policies {
		if a.Policies[i].ID == id {
			return &a.Policies[i]
		}
	}
	return nil
}

// FindArchive returns the archive with the given id, nil if absent.
func FindArchive(archives []Archive, id string) *Archive {
	for i := range archives {
		if archives[i].ID == id {
			return &archives[i]
		}
	}
	return nil
}

// CheckOptionFor resolves display names for an archive/policy pair.
func CheckOptionFor(archives []Archive, archiveID, policyID string) (*CheckOption, error) {
	a := FindArchive(archives, archiveID)
	if a == nil {
		return nil, fmt.Errorf("report: unknown archive %q", archiveID)
	}
	p := a.Policy(policyID)
	if p == nil {
		return nil, fmt.Errorf("report: unknown policy %q in archive %q", policyID, archiveID)
	}
	return &CheckOption{
		Deployment: Ref{ID: a.ID, Name: a.Name},
		Guideline:  Ref{ID: p.ID, Name: p.Name},
	}, nil
}

// RuleRef names a rule inside a checkpoint.
type RuleRef struct {
	ID    string `json:"id" yaml:"id"`
	Level string `json:"level,omitempty" yaml:"level"`
}

// Checkpoint is one success criterion of a ruleset.
type Checkpoint struct {
	Num     string    `json:"num" yaml:"num"`
	Name    string    `json:"name" yaml:"name"`
	Summary string    `json:"summary,omitempty" yaml:"summary"`
	Rules   []RuleRef `json:"rules" yaml:"rules"`
}

// Ruleset is a policy's checkpoints with the rules mapped to them.
type Ruleset struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description"`
	Checkpoints []Checkpoint `json:"checkpoints" yaml:"checkpoints"`
}

// CheckpointFor returns the checkpoint of ruleset rulesetID that lists
// ruleID. When several do, the last one wins.
func CheckpointFor(rulesets []Ruleset, rulesetID, ruleID string) *Checkpoint {
	var found *Checkpoint
	for i := range rulesets {
		if rulesets[i].ID != rulesetID {
			continue
		}
		for j := range rulesets[i].Checkpoints {
			cp := &rulesets[i].Checkpoints[j]
			for _, r := range cp.Rules {
				if r.ID == ruleID {
					found = cp
				}
			}
		}
	}
	return found
}
