// Package tpubsub contains types for in-application
// publish-subscribe patterns.
//
// The [Stream] type covers the pattern of a single publisher
// with many concurrent subscribers who all observe the same sequence of values,
// such as a guest's avatar broadcast or the merged results of a fanned-out query.
package tpubsub
