// Package logx is tasker's thin layer over zerolog.
//
// The console gets a readable line with a short file:line caller; the
// optional log file gets JSON. Level and sinks follow the logging section
// of the config across reloads.
package logx
