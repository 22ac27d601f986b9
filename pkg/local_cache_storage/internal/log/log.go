package storagelog

import (
	"go.uber.org/zap"
)

// headMsg is a distinctive part of all messages.
const headMsg = "local cache storage operation"

// Write writes message about cache storage operation to logger.
func Write(logger *zap.Logger, fields ...zap.Field) {
	logger.Debug(headMsg, fields...)
}

// ArchiveField returns logger's field for archive id.
func ArchiveField(archive uint8) zap.Field {
	return zap.Uint8("archive", archive)
}

// GroupField returns logger's field for group id.
func GroupField(group uint32) zap.Field {
	return zap.Uint32("group", group)
}

// OpField returns logger's field for operation type.
func OpField(op string) zap.Field {
	return zap.String("op", op)
}

// StorageTypeField returns logger's field for storage type.
func StorageTypeField(typ string) zap.Field {
	return zap.String("type", typ)
}
