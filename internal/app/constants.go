package app

const (
	Name            = "reefdash"
	ConfigFilename  = "config.json"
	JournalFilename = "journal.db"
	LogFilename     = "app.log"
	JournalQueueLen = 512
)
