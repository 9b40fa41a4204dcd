// Package weave implements the bytecode injection weaver (§4.D): it rewrites
// compiled JVM class files to add synthetic setters for private and final
// fields the annotation front end marked as injection targets, so the
// generated factory code in package veld can wire them without runtime
// reflection.
//
// No example in this repository's retrieval pack touches JVM class-file
// structure, so classfile.go is a hand-written minimal parser/writer built
// directly on encoding/binary rather than adapted from a third-party
// library — see the design notes for why this is the one ambient concern
// left on the standard library.
package weave
