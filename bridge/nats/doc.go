// Package nats forwards session events from an authclient.EventBus to a NATS
// subject so other services can react to logouts and token rotations.
//
// Token material is stripped before publishing.
package nats
