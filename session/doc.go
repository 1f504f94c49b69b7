// Package session is the single owner of the BLE central session: adapter
// power tracking, the connection state machine with its timeout race,
// GATT discovery of a writable endpoint, and payload transfer.
//
// All radio callbacks and all caller commands are funneled through one actor
// goroutine, so session state is never mutated concurrently. Public methods
// return as soon as the actor has validated the request and issued it to the
// radio; completion is reported through Notifications.
//
// Device discovery is the exception: DeviceDiscovered events go straight to
// the registry, which has its own guard and shares no data with the session.
package session
