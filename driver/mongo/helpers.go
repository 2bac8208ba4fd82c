package mongo

import (
	"errors"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
	mongodb "go.mongodb.org/mongo-driver/mongo"
)

// replyFromError extracts the raw server reply carried by a driver error.
//
// The driver turns ok: 0 replies into CommandError and replies listing
// writeErrors into WriteException; both keep the original document, which
// the core interprets itself.
func replyFromError(err error) (bson.Raw, bool) {
	var commandErr mongodb.CommandError
	if errors.As(err, &commandErr) && len(commandErr.Raw) > 0 {
		return commandErr.Raw, true
	}
	var writeException mongodb.WriteException
	if errors.As(err, &writeException) && len(writeException.Raw) > 0 {
		return writeException.Raw, true
	}
	return nil, false
}

// toWriteErrors converts driver write errors to core write errors.
func toWriteErrors(writeErrorList mongodb.WriteErrors) []core.WriteError {
	resultList := make([]core.WriteError, 0, len(writeErrorList))
	for _, writeError := range writeErrorList {
		resultList = append(resultList, core.WriteError{
			Index:  writeError.Index,
			Code:   writeError.Code,
			ErrMsg: writeError.Message,
		})
	}
	return resultList
}
