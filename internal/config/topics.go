package config

const (
	// TopicBookProcess is the NSQ topic for running the RAG pipeline over a book.
	TopicBookProcess = "book.process"

	// ChannelBookProcess is the channel the processing workers share.
	ChannelBookProcess = "rag-processor"
)
