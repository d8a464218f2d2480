package irc

// Numeric replies handled by the dispatcher.
const (
	RPL_WELCOME         = 1
	RPL_YOURHOST        = 2
	RPL_CREATED         = 3
	RPL_MYINFO          = 4
	RPL_ISUPPORT        = 5
	RPL_UMODEIS         = 221
	RPL_LUSERCLIENT     = 251
	RPL_LUSERME         = 255
	RPL_LOCALUSERS      = 265
	RPL_GLOBALUSERS     = 266
	RPL_AWAY            = 301
	RPL_UNAWAY          = 305
	RPL_NOWAWAY         = 306
	RPL_WHOISUSER       = 311
	RPL_WHOISSERVER     = 312
	RPL_WHOISOPERATOR   = 313
	RPL_WHOISIDLE       = 317
	RPL_ENDOFWHOIS      = 318
	RPL_WHOISCHANNELS   = 319
	RPL_WHOISACCOUNT    = 330
	RPL_NOTOPIC         = 331
	RPL_TOPIC           = 332
	RPL_TOPICWHOTIME    = 333
	RPL_INVITING        = 341
	RPL_NAMREPLY        = 353
	RPL_ENDOFNAMES      = 366
	RPL_MOTD            = 372
	RPL_MOTDSTART       = 375
	RPL_ENDOFMOTD       = 376
	ERR_NOMOTD          = 422
	ERR_ERRONEUSNICK    = 432
	ERR_NICKNAMEINUSE   = 433
	ERR_NICKCOLLISION   = 436
	ERR_UNAVAILRESOURCE = 437
	RPL_LOGGEDIN        = 900
	RPL_LOGGEDOUT       = 901
	ERR_NICKLOCKED      = 902
	RPL_SASLSUCCESS     = 903
	ERR_SASLFAIL        = 904
	ERR_SASLTOOLONG     = 905
	ERR_SASLABORTED     = 906
	ERR_SASLALREADY     = 907
	RPL_SASLMECHS       = 908
)

// informational numerics surfaced verbatim as system notices
var informational = map[int]bool{
	RPL_YOURHOST:      true,
	RPL_CREATED:       true,
	RPL_MYINFO:        true,
	RPL_UMODEIS:       true,
	RPL_LUSERCLIENT:   true,
	252:               true,
	253:               true,
	254:               true,
	RPL_LUSERME:       true,
	RPL_LOCALUSERS:    true,
	RPL_GLOBALUSERS:   true,
	RPL_AWAY:          true,
	RPL_UNAWAY:        true,
	RPL_NOWAWAY:       true,
	RPL_WHOISUSER:     true,
	RPL_WHOISSERVER:   true,
	RPL_WHOISOPERATOR: true,
	RPL_WHOISIDLE:     true,
	RPL_ENDOFWHOIS:    true,
	RPL_WHOISCHANNELS: true,
	RPL_WHOISACCOUNT:  true,
	RPL_INVITING:      true,
	RPL_MOTD:          true,
	RPL_MOTDSTART:     true,
	RPL_ENDOFMOTD:     true,
	ERR_NOMOTD:        true,
	RPL_LOGGEDIN:      true,
	RPL_LOGGEDOUT:     true,
}

func isErrorNumeric(code int) bool {
	return code >= 400 && code < 600
}
