package domain

var Tables = []interface{}{
	// System
	&SysOpr{},
	// Messenger
	&ChatAccount{},
	&ChatMessageLog{},
}
