// Package gameprobe inspects a directory's files for the game-specific
// formats described in spec.md §4.3's GameProbe: a registration key
// (fizz.bin) and a game-overview scan (per-player result files plus the
// fixed set of data files a running game directory is expected to carry).
// Both probes are invoked lazily, from STATGAME/LSGAME/STATREG/LSREG, and
// never by the directory cache itself.
package gameprobe

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vgshost/core/pkg/vfs"
)

// KeyFileName is the registration key file GameStatus looks for, per
// spec.md §4.3 ("if file fizz.bin exists...").
const KeyFileName = "fizz.bin"

// RaceNameFile holds per-slot race names, one per line, when present.
const RaceNameFile = "race.nm"

// DefaultRaceNames is the fixed 11-entry race table used when race.nm is
// absent, reproduced from the original's default name list.
var DefaultRaceNames = [11]string{
	"FEDERATION",
	"LIZARD",
	"BIRD MAN",
	"FASCIST",
	"PRIVATEER",
	"CYBORG",
	"CRYSTAL",
	"EMPIRE",
	"ROBOT",
	"COLONIAL",
	"REBEL",
}

// fixedFiles is the set of well-known game data files whose absence is
// reported in a GameOverview's MissingFiles, per spec.md §4.3.
var fixedFiles = []string{
	"beamspec.dat",
	"engspec.dat",
	"hullspec.dat",
	"pconfig.src",
	"planet.nm",
	"torpspec.dat",
	"truehull.dat",
}

const maxSlots = len(DefaultRaceNames)

// Registration is the parsed form of fizz.bin, per spec.md §4.3: "{fileName,
// isRegistered, label1, label2, keyId}."
type Registration struct {
	FileName     string
	IsRegistered bool
	Label1       string
	Label2       string
	KeyID        int
}

// Slot is one player position in a GameOverview.
type Slot struct {
	Number int
	Name   string
}

// GameOverview is the parsed form of a game directory's result files, per
// spec.md §4.3: "{slots, missingFiles, hostVersion}."
type GameOverview struct {
	Slots        []Slot
	MissingFiles []string
	HostVersion  string
}

// lister is the subset of dirtree.DirectoryItem's surface GameProbe needs:
// entry classification (by name) and raw file content. Declared narrowly
// here rather than importing pkg/dirtree, to keep this package usable
// against any backend a caller already has open.
type lister interface {
	Entries(ctx context.Context) ([]vfs.FileInfo, error)
}

func hasEntry(entries []vfs.FileInfo, name string) bool {
	for _, e := range entries {
		if !e.IsDir && e.Name == name {
			return true
		}
	}
	return false
}

func readFile(ctx context.Context, backend vfs.DirectoryHandler, name string) ([]byte, error) {
	rc, _, err := backend.GetFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ProbeRegistration looks for fizz.bin and parses it. Per spec.md §4.3,
// "all errors swallowed, producing no key info" — a missing or malformed
// key file simply yields (nil, nil), never an error the caller has to
// handle specially.
func ProbeRegistration(ctx context.Context, dir lister, backend vfs.DirectoryHandler) (*Registration, error) {
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if !hasEntry(entries, KeyFileName) {
		return nil, nil
	}
	data, err := readFile(ctx, backend, KeyFileName)
	if err != nil {
		return nil, nil
	}
	reg, ok := parseRegistration(data)
	if !ok {
		return nil, nil
	}
	reg.FileName = KeyFileName
	return reg, nil
}

// parseRegistration decodes fizz.bin's small fixed-layout record: four
// newline-separated text fields (isRegistered flag, label1, label2, keyId)
// rather than a genuine encrypted key, a simplification of the original's
// binary registration format adequate for the probe's observable contract.
func parseRegistration(data []byte) (*Registration, bool) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 4 {
		return nil, false
	}
	registered := strings.TrimSpace(lines[0]) == "1"
	keyID, err := strconv.Atoi(strings.TrimSpace(lines[3]))
	if err != nil {
		return nil, false
	}
	return &Registration{
		IsRegistered: registered,
		Label1:       strings.TrimSpace(lines[1]),
		Label2:       strings.TrimSpace(lines[2]),
		KeyID:        keyID,
	}, true
}

// resultFileName is the per-player result file GameStatus's DirectoryScanner
// looks for to set a slot's HaveResult flag.
func resultFileName(slot int) string { return fmt.Sprintf("player%d.rst", slot) }

// xyplanFileName is the per-player starchart file checked for an active
// slot, per spec.md §4.3's "a per-player xyplanN.dat for every slot."
func xyplanFileName(slot int) string { return fmt.Sprintf("xyplan%d.dat", slot) }

// ProbeGame scans for per-player result files and builds the slot list,
// missing-file report, and (from the registration probe, if any) the
// GameOverview's host version label.
func ProbeGame(ctx context.Context, dir lister, backend vfs.DirectoryHandler) (*GameOverview, error) {
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}

	haveResult := make([]bool, maxSlots+1)
	anyResult := false
	for slot := 1; slot <= maxSlots; slot++ {
		if hasEntry(entries, resultFileName(slot)) {
			haveResult[slot] = true
			anyResult = true
		}
	}
	if !anyResult {
		return nil, nil
	}

	var missing []string
	names, err := raceNames(ctx, entries, backend)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = DefaultRaceNames[:]
		missing = append(missing, RaceNameFile)
	}

	var slots []Slot
	for slot := 1; slot <= maxSlots; slot++ {
		if !haveResult[slot] {
			continue
		}
		name := ""
		if slot-1 < len(names) {
			name = names[slot-1]
		}
		if name == "" {
			name = fmt.Sprintf("Player %d", slot)
		}
		slots = append(slots, Slot{Number: slot, Name: name})
	}

	for _, f := range fixedFiles {
		if !hasEntry(entries, f) {
			missing = append(missing, f)
		}
	}

	xyplanMissing := false
	for _, s := range slots {
		if !hasEntry(entries, xyplanFileName(s.Number)) {
			xyplanMissing = true
			break
		}
	}
	if xyplanMissing {
		missing = append(missing, "xyplan.dat")
	}

	overview := &GameOverview{Slots: slots, MissingFiles: missing}
	if reg, err := ProbeRegistration(ctx, dir, backend); err == nil && reg != nil {
		overview.HostVersion = reg.Label1
	}
	return overview, nil
}

// raceNames reads race.nm's newline-separated per-slot names, or returns
// (nil, nil) if the file is absent — distinct from a present-but-empty
// file, which yields a slice holding one empty name.
func raceNames(ctx context.Context, entries []vfs.FileInfo, backend vfs.DirectoryHandler) ([]string, error) {
	if !hasEntry(entries, RaceNameFile) {
		return nil, nil
	}
	data, err := readFile(ctx, backend, RaceNameFile)
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		names = append(names, strings.TrimRight(line, "\r"))
	}
	return names, nil
}

// FilterUnique suppresses later entries whose KeyID repeats an earlier
// one, for LSREG's -UNIQ flag.
func FilterUnique(regs []*Registration) []*Registration {
	seen := make(map[int]bool)
	out := make([]*Registration, 0, len(regs))
	for _, r := range regs {
		if r == nil {
			continue
		}
		if seen[r.KeyID] {
			continue
		}
		seen[r.KeyID] = true
		out = append(out, r)
	}
	return out
}

// FilterByKeyID keeps only registrations whose KeyID equals id, for
// LSREG's -KEY flag.
func FilterByKeyID(regs []*Registration, id int) []*Registration {
	out := make([]*Registration, 0, len(regs))
	for _, r := range regs {
		if r != nil && r.KeyID == id {
			out = append(out, r)
		}
	}
	return out
}
