// Package mqtt forwards operational events to an MQTT broker so farm
// dashboards and automations can react to parsed activities and chat
// turns.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. It publishes a
// retained "online" status on every (re-)connect, and a will message
// flips the status topic to "offline" on unexpected disconnects.
//
// Topics, under the configured prefix:
//
//	<prefix>/status                  online | offline (retained)
//	<prefix>/events/<source>/<kind>  one JSON event per message
//	<prefix>/stats                   daily token totals (retained)
package mqtt
