// Package push mirrors emergency alerts to a push-notification gateway so
// devices without a live socket still get notified. Delivery is best-effort
// and never blocks or fails the broadcast path.
package push
