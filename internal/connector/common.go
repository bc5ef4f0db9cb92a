package connector

import (
	"time"

	"docs4usync/internal/types"
)

// stage names the step an upsert or removal was in, for logging.
type stage string

const (
	stageStart    stage = "start"
	stageSecurity stage = "security_check"
	stageACL      stage = "acl_translate"
	stageMetadata stage = "metadata_map"
	stageContent  stage = "content_attach"
	stageLookup   stage = "lookup"
	stageCreate   stage = "create"
	stageUpdate   stage = "update"
	stageDelete   stage = "delete"
)

// Rejection reasons recorded in the activity history.
const (
	ReasonDirectoryACLs = "Directory ACLs present"
	ReasonShareACLs     = "Share ACLs present"
	ReasonACLNotMapped  = "Access tokens did not map"
)

var timeNow = time.Now

func SetTimeNowFn(f func() time.Time) {
	timeNow = f
}

func RestoreTimeNow() {
	timeNow = time.Now
}

// ActivitiesList is every activity kind the connector records.
func ActivitiesList() []string {
	return []string{types.ActivitySave, types.ActivityDelete}
}
