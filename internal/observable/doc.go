// Package observable is the notification engine. A Source decorates a
// store: it orders each saved batch topologically, persists it in one
// call, then walks every registered inverse rule for each newly written
// fact and delivers the resulting deltas before Save returns.
//
// Delivered paths start at the subscription root and follow the query's
// joins, so a listener on A watching S.b ... S.c receives [A B C].
//
// Facts of one batch are notified in sorted order as if saved one at a
// time: while a fact is being notified, the facts after it in the batch
// are not visible to the rule walks. Each result row is therefore
// reported once, by the last of its facts to arrive.
//
// Callbacks may save with the context they receive. Such a batch is
// written at once and notified after the batch in progress.
//
// Listener failures (errors and panics) are logged, counted and isolated;
// they never fail Save and are never retried.
package observable
