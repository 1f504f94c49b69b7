// Package controller is the application-facing facade over the BLE session:
// an observable device list, the connected-device signal, and the request
// operations a UI binds to (connect, disconnect, rescan, send).
package controller
