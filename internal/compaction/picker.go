package compaction

import (
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/manifest"
	"github.com/aalhour/rockyardkv/internal/version"
)

// Tuning constants from §4.13: level 0 is scored by file count against a
// trigger; level ≥ 1 is scored by total bytes against a target that grows
// geometrically, base 10 MiB times a factor of 10 per level.
const (
	L0CompactionTrigger = 4
	LevelBaseBytes      = 10 * 1024 * 1024
	LevelSizeMultiplier = 10

	// DefaultMaxOutputFileSize is the per-file rotation cap an executing
	// job uses when the caller doesn't override it.
	DefaultMaxOutputFileSize = 2 * 1024 * 1024
)

// Picker selects the next compaction for a partition's current Version.
type Picker struct {
	NumLevels         int
	L0Trigger         int
	BaseBytes         uint64
	SizeMultiplier    uint64
	MaxOutputFileSize uint64
}

// NewPicker returns a Picker configured with §4.13's defaults.
func NewPicker() *Picker {
	return &Picker{
		NumLevels:         version.MaxNumLevels,
		L0Trigger:         L0CompactionTrigger,
		BaseBytes:         LevelBaseBytes,
		SizeMultiplier:    LevelSizeMultiplier,
		MaxOutputFileSize: DefaultMaxOutputFileSize,
	}
}

// TargetBytes returns the size a level ≥ 1 is allowed to reach before its
// score exceeds 1.0: base * multiplier^(level-1).
func (p *Picker) TargetBytes(level int) uint64 {
	target := p.BaseBytes
	for i := 1; i < level; i++ {
		target *= p.SizeMultiplier
	}
	return target
}

// Score returns level's compaction score: count/trigger for level 0,
// bytes/target for level ≥ 1.
func (p *Picker) Score(v *version.Version, level int) float64 {
	if level == 0 {
		return float64(v.NumFiles(0)) / float64(p.L0Trigger)
	}
	return float64(v.NumLevelBytes(level)) / float64(p.TargetBytes(level))
}

// Pick returns the next compaction for v, if any level's score exceeds 1.0.
// compactPointer(level) returns the stored cursor for that level (nil if
// none yet), used to round-robin through a level's files across repeated
// compactions instead of always picking the same one.
func (p *Picker) Pick(partitionID uint32, v *version.Version, compactPointer func(level int) dbformat.InternalKey) (*Compaction, bool) {
	bestLevel := -1
	bestScore := 1.0
	for level := 0; level < p.NumLevels-1; level++ {
		score := p.Score(v, level)
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	if bestLevel == -1 {
		return nil, false
	}

	inputs := p.selectInputFiles(v, bestLevel, compactPointer(bestLevel))
	if len(inputs) == 0 || len(inputs[0].Files) == 0 {
		return nil, false
	}

	c := New(partitionID, inputs, bestLevel+1, p.MaxOutputFileSize)
	c.Score = bestScore
	c.Reason = ReasonLevelScore
	return c, true
}

// selectInputFiles implements §4.13's file-selection rule: pick one file
// from level (the first past the compact pointer, else the first file),
// expand it to every overlapping file in the same level (L0 only — L1+ is
// non-overlapping by construction), then pull in every file at level+1
// that overlaps the resulting key range.
func (p *Picker) selectInputFiles(v *version.Version, level int, pointer dbformat.InternalKey) []InputFiles {
	files := v.Files(level)
	if len(files) == 0 {
		return nil
	}

	var base *manifest.FileMetaData
	for _, f := range files {
		if f.BeingCompacted {
			continue
		}
		if pointer == nil || dbformat.Compare(f.Largest, pointer) > 0 {
			base = f
			break
		}
	}
	if base == nil {
		return nil
	}

	selected := []*manifest.FileMetaData{base}
	smallest, largest := base.Smallest, base.Largest

	if level == 0 {
		for changed := true; changed; {
			changed = false
			for _, f := range files {
				if containsFile(selected, f.FileNumber) || f.BeingCompacted {
					continue
				}
				if dbformat.Compare(f.Smallest, largest) > 0 || dbformat.Compare(f.Largest, smallest) < 0 {
					continue
				}
				selected = append(selected, f)
				if dbformat.Compare(f.Smallest, smallest) < 0 {
					smallest = f.Smallest
				}
				if dbformat.Compare(f.Largest, largest) > 0 {
					largest = f.Largest
				}
				changed = true
			}
		}
	}

	result := []InputFiles{{Level: level, Files: selected}}

	outputLevel := level + 1
	parents := v.OverlappingInputs(outputLevel, smallest, largest)
	if len(parents) > 0 {
		result = append(result, InputFiles{Level: outputLevel, Files: parents})
	}
	return result
}

func containsFile(files []*manifest.FileMetaData, fileNumber uint64) bool {
	for _, f := range files {
		if f.FileNumber == fileNumber {
			return true
		}
	}
	return false
}
