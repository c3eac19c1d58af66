// Package main runs a small traced web shop and drives load against it.
//
// Every request to the shop is traced with the tracing middleware and the
// finished traces are shipped to a collector, which makes tracegen both a
// demo and a smoke test for a collector deployment.
//
// Usage:
//
//	# Ship to a local collector over HTTP at 20 requests per second
//	./tracegen --collector http://localhost:8640 --rps 20
//
//	# Framed TCP transport, stop after one minute
//	./tracegen --transport tcp --collector localhost:8641 --duration 1m
package main
