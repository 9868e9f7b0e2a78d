package domain

// RoomName identifies a room; rooms come into being on first join.
type RoomName string
