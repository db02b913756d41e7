package consts

const MailboxDelimiter = '/'

// DefaultMailbox receives messages the script keeps.
const DefaultMailbox = "INBOX"
