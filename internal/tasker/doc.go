// Package tasker runs day-of-week / time-of-day schedules against a ticking
// real-time clock.
//
// # Overview
//
// A Tasker owns one ClockWatcher and an ordered list of ScheduleState records
// (declaration order). Each call to Tasker.Tick polls the clock once and lets
// the Scheduler evaluate every enabled schedule against that single snapshot.
// A schedule fires its action at most once per (date, time-of-day) instant.
//
// # Text formats
//
// Times are read from a text field such as "07:00, 19:30" or "6:15:30 22:00".
// Days are read from a text field such as "Mon,Wed,Fri", "mon-fri", "1 3 5" or
// "weekend". Bad tokens are dropped and reported as ParseError values; they
// never fail the whole field. An empty day field means every day.
//
// # Clock handling
//
// Nothing fires until the clock source reports a valid time. Backward jumps
// never re-fire an instant at or before the last fired one; forward jumps
// never backfire the instants that were skipped.
//
// # Concurrency
//
// Tick is serialized by the Tasker. Enable switches may toggle from any
// goroutine; the flag is read once per schedule per tick.
package tasker
