/*
Engine implements the intraday cycle orchestrator.

# Module
  - cycle lock: one cycle or flatten pass at a time, in process or across processes
  - analysis: per symbol in parallel, feed -> catalysts -> indicators -> rules -> sentiment
  - ranker: orders the evaluated symbols into candidates
  - risk engine: hard limits and sizing for every enter_long candidate
  - execution: the trade state machine, driven serially through the simulated gateway
  - book: trades, positions and the session row, committed per symbol

# Source
 1. bars and headlines from a feed adapter (simulated or recorded)
 2. owned state recovered from storage at the start of every cycle

# Produce
  - cycle run records, signals, provenance and metrics rows
  - trade and position rows, the session row
  - operator notifications

# Sharded
  - none, the session row is process wide
*/
package engine
