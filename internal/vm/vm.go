// Package vm sequences machine lifecycle operations against a hypervisor.
// It locates and opens sessions, drives them one blocking call at a time,
// and applies the create, import and destroy policies.
package vm
