// Package api defines the public model of the weft engine: workflow
// definitions, work orders, workers and their call stacks, step records,
// join countdowns, and the Engine, Runtime and Observer contracts.
package api
