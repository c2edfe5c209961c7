// Package attribute stores the generic, multi-valued attributes of federated
// users that have no column in the external user table.
//
// Values are keyed by the canonical user id and the attribute name, and keep
// their insertion order. Reserved attributes (such as phone) never reach this
// store; the federation mapper routes them to the user record instead.
//
// Writes are applied immediately and are not part of the user store
// transaction.
package attribute
