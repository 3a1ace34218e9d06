package model

// Object key/value names written by the cabin system.
const (
	KeyShipSerial = "ship_serial"
	KeyTemplate   = "cabin_template"
	KeyCabinExit  = "cabin_exit"

	KeyBackupMap = "backup-loc_map"
	KeyBackupX   = "backup-loc_x"
	KeyBackupY   = "backup-loc_y"

	KeyLinkMap = "link_map"
	KeyLinkX   = "link_x"
	KeyLinkY   = "link_y"
)

// ExitMarker is the value of KeyCabinExit on a cabin's return door.
const ExitMarker = "1"
