package dispatch

// Built-in texts are written in English and localized per account on send.
const (
	welcomeText = "Welcome!\n\n" +
		"We are here to help you find the perfect master, ready to solve any of your tasks.\n" +
		"If you are a master, we will help you find new orders.\n" +
		"And the best part – our bot can chat with you just like a real person.\n\n" +
		"Need help → /help"

	helpText = "👋 Hi! My name is FixFox — your smart assistant. Here’s what I can do for you:\n\n" +
		"🔍 Find a specialist for any task — just describe what you need, and I’ll connect you with the right person.\n" +
		"👨‍🔧 Help professionals — if you’re a master, I’ll help you get new clients and orders.\n" +
		"📋 Manage your orders — check your active tasks or close them when they’re done.\n" +
		"🚪 Control your profile — as a master, you can activate or pause your profile anytime.\n\n" +
		"💬 I can chat with you like a real person: answer your questions, guide you step by step, and make the process simple."

	apologyText          = "Sorry, something went wrong while processing your message. Please try again a bit later."
	fileApologyText      = "Sorry, I could not process this file. Please try again a bit later."
	adminDeniedText      = "Really?"
	commentReceivedText  = "Your comments on the order have been received. We will send your contact details to the client."
	orderClosedText      = "Sorry. This order is already closed."
	orderUnavailableText = "Sorry. This order is no longer available."
	commentPromptLead    = "Please leave your comments on the order"
	commentPromptTail    = "If possible, indicate the approximate cost and timeline. Please note that this information will be sent to the client for their consideration."
	orderExtendedText    = "The order has been extended until"
)
