package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/gammon-analysis-bot/internal/filesync"
	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
	"github.com/park285/gammon-analysis-bot/internal/gammon/script"
)

const twoGameLog = ` 5 point match

 Game 1
 Alice : 0                           Bob : 0
  1) 43: 13/9 13/10                  54: 24/20 13/8
  2) 31: 8/5 6/5*                    41: Bar/21 24/23
  3)                                  Doubles => 2
  4)  Takes                          62: 13/7 13/11
  5)  Doubles => 4                    Drops
      Wins 2 points

 Game 2
 Alice : 2                           Bob : 0
  1) 66: 24/Off 24/Off 13/Off 13/Off  21: 13/11 6/5
  2) 66: 13/Off 13/Off 13/Off 8/Off   21: 11/9 5/4
  3) 66: 8/Off 8/Off 6/Off 6/Off      21: 9/7 4/3
  4) 66: 6/Off 6/Off 6/Off
      Wins 1 point
`

type fakeEngine struct {
	harvest *engine.Harvest
	err     error
	runs    int
	tokens  []script.Token
}

func (f *fakeEngine) Run(_ context.Context, tokens []script.Token) (*engine.Harvest, error) {
	f.runs++
	f.tokens = tokens
	if f.err != nil {
		return nil, f.err
	}
	return f.harvest, nil
}

type fakeWaiter struct{ err error }

func (w fakeWaiter) Wait(context.Context, string) error { return w.err }

func writeLog(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func sampleHarvest() *engine.Harvest {
	return &engine.Harvest{
		Hints: map[int][]engine.Hint{
			2: {{Rank: 1, MoveText: "8/5 6/5*", Equity: 0.1, Probabilities: []float64{0.5, 0.1, 0}}},
		},
		Raw:      map[int]string{3: "garbled"},
		Timeouts: 1,
	}
}

func TestAnalyzeFileWritesDocumentAndImages(t *testing.T) {
	dir := t.TempDir()
	src := writeLog(t, dir, "club.mat", twoGameLog)
	eng := &fakeEngine{harvest: sampleHarvest()}
	p := NewPipeline(Config{OutputDir: filepath.Join(dir, "out")}, fakeWaiter{}, eng, nil, nil)

	res, err := p.AnalyzeFile(context.Background(), src, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.HasGames)
	assert.Equal(t, 2, res.Games)
	assert.Equal(t, filepath.Join(dir, "out", "club", "club.json"), res.JSONPath)
	assert.Equal(t, 1, eng.runs)
	assert.NotEmpty(t, eng.tokens)

	for _, name := range []string{"game_01.png", "game_02.png"} {
		_, err := os.Stat(filepath.Join(res.GamesDir, name))
		assert.NoError(t, err, name)
	}

	raw, err := os.ReadFile(res.JSONPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, []any{"Alice", "Bob"}, doc["players"])
	assert.EqualValues(t, 5, doc["length"])
	assert.EqualValues(t, -1, doc["crawford_game"])
	assert.EqualValues(t, 1, doc["engine_timeouts"])

	games := doc["games"].([]any)
	require.Len(t, games, 2)
	g1 := games[0].(map[string]any)
	assert.Equal(t, "games/game_01.png", filepath.ToSlash(g1["image"].(string)))
	turns := g1["turns"].([]any)
	require.Len(t, turns, 10)

	hit := turns[2].(map[string]any)
	assert.EqualValues(t, 2, hit["index"])
	assert.Equal(t, "player_one", hit["player"])
	hints := hit["hints"].([]any)
	require.Len(t, hints, 1)
	assert.Equal(t, "8/5 6/5*", hints[0].(map[string]any)["move_text"])
	positions := hit["positions"].(map[string]any)
	assert.EqualValues(t, 1, positions["player_two"].(map[string]any)["bar"])
	assert.Contains(t, hit, "inverted_positions")

	raw3 := turns[3].(map[string]any)
	assert.Equal(t, "garbled", raw3["raw_hint"])
	assert.Empty(t, raw3["hints"])

	double := turns[5].(map[string]any)
	assert.EqualValues(t, 2, double["cube_value"])
	assert.Equal(t, "player_one", double["cube_owner"])
}

func TestAnalyzeFileWithoutGamesSkipsEngine(t *testing.T) {
	dir := t.TempDir()
	src := writeLog(t, dir, "empty.mat", "nothing useful here\n")
	eng := &fakeEngine{}
	p := NewPipeline(Config{OutputDir: dir}, nil, eng, nil, nil)

	res, err := p.AnalyzeFile(context.Background(), src, FileOptions{OutputDir: filepath.Join(dir, "o")})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, res.HasGames)
	assert.Zero(t, eng.runs)
	_, err = os.Stat(res.JSONPath)
	assert.NoError(t, err)
}

func TestAnalyzeFileEngineMissingIsFatal(t *testing.T) {
	dir := t.TempDir()
	src := writeLog(t, dir, "club.mat", twoGameLog)
	p := NewPipeline(Config{OutputDir: dir}, nil, &fakeEngine{err: engine.ErrEngineMissing}, nil, nil)

	res, err := p.AnalyzeFile(context.Background(), src, FileOptions{})
	assert.ErrorIs(t, err, engine.ErrEngineMissing)
	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestAnalyzeFileNotReplicated(t *testing.T) {
	p := NewPipeline(Config{OutputDir: t.TempDir()}, fakeWaiter{err: filesync.ErrNotReplicated}, &fakeEngine{}, nil, nil)
	_, err := p.AnalyzeFile(context.Background(), "/nowhere/x.mat", FileOptions{})
	assert.ErrorIs(t, err, filesync.ErrNotReplicated)
}

func writeZip(t *testing.T, path string, files map[string]string, order []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestAnalyzeBatchReportsEachFile(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "logs.zip")
	files := map[string]string{
		"b/second.txt": twoGameLog,
		"a/first.mat":  twoGameLog,
		"readme.md":    "ignored",
	}
	writeZip(t, zipPath, files, []string{"b/second.txt", "readme.md", "a/first.mat"})

	eng := &fakeEngine{harvest: sampleHarvest()}
	p := NewPipeline(Config{OutputDir: filepath.Join(dir, "out")}, fakeWaiter{}, eng, nil, nil)

	var seen []int
	res, err := p.AnalyzeBatch(context.Background(), "batch-1", zipPath, func(i, total int, r FileResult) {
		assert.Equal(t, 2, total)
		seen = append(seen, i)
	})
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.BatchID)
	assert.Equal(t, 2, res.TotalFiles)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 2, res.Succeeded())
	assert.Equal(t, "first.mat", filepath.Base(res.Results[0].MatPath))
	assert.Equal(t, 2, eng.runs)
}

func TestAnalyzeBatchRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, map[string]string{"../escape.mat": twoGameLog}, []string{"../escape.mat"})

	p := NewPipeline(Config{OutputDir: filepath.Join(dir, "out")}, nil, &fakeEngine{}, nil, nil)
	_, err := p.AnalyzeBatch(context.Background(), "b", zipPath, nil)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "out", "b", "escape.mat"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeBatchAbortsWhenEngineMissing(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "logs.zip")
	writeZip(t, zipPath, map[string]string{"a.mat": twoGameLog, "b.mat": twoGameLog}, []string{"a.mat", "b.mat"})

	eng := &fakeEngine{err: engine.ErrEngineMissing}
	p := NewPipeline(Config{OutputDir: filepath.Join(dir, "out")}, nil, eng, nil, nil)
	calls := 0
	_, err := p.AnalyzeBatch(context.Background(), "b", zipPath, func(int, int, FileResult) { calls++ })
	assert.ErrorIs(t, err, engine.ErrEngineMissing)
	assert.Equal(t, 1, eng.runs)
	assert.Zero(t, calls)
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	_, err := safeJoin(root, "dir/ok.mat")
	assert.NoError(t, err)
	for _, bad := range []string{"../x.mat", "/etc/x.mat", `..\x.mat`, "a/../../x.mat"} {
		_, err := safeJoin(root, bad)
		assert.ErrorIs(t, err, ErrUnsafeArchive, bad)
	}
}
