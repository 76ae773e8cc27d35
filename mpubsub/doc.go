// Package mpubsub contains an in-process publish-subscribe stream.
//
// A [Stream] has exactly one publisher and any number of followers,
// and every follower observes the same sequence of values
// in publication order.
// The value store uses it to announce newly learned values.
package mpubsub
