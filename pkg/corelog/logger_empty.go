//go:build logless

package corelog

import "time"

// EmptyLog discards everything; selected by the logless build tag for
// size-constrained builds, matching the teacher's
// pkg/core/logger/logger.empty.go.
type EmptyLog struct{}

var Log = EmptyLog{}

func SetLevel(bool) {}

func (l EmptyLog) Debug() EmptyLog { return l }
func (l EmptyLog) Info() EmptyLog  { return l }
func (l EmptyLog) Warn() EmptyLog  { return l }
func (l EmptyLog) Error() EmptyLog { return l }

func (l EmptyLog) Msg(string)         {}
func (l EmptyLog) Msgf(string, ...interface{}) {}
func (l EmptyLog) Err(error) EmptyLog { return l }

func (l EmptyLog) Str(string, string) EmptyLog    { return l }
func (l EmptyLog) Int(string, int) EmptyLog       { return l }
func (l EmptyLog) Float32(string, float32) EmptyLog { return l }
func (l EmptyLog) Float64(string, float64) EmptyLog { return l }
func (l EmptyLog) Bool(string, bool) EmptyLog     { return l }
func (l EmptyLog) Dur(string, time.Duration) EmptyLog { return l }
