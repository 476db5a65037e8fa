package tools

const retrieveEventPrompt = `
This tool retrieves an Eventbrite event using the Eventbrite API.
Always make sure to get the Eventbrite event ID.
You can ask questions like:
- "Get the event details for the event with event ID 1246643."
- "What is the event for ID 12345."
`

const listAttendeesPrompt = `
This tool retrieves the attendees of an Eventbrite event using the Eventbrite API.
Always make sure to get the Eventbrite event ID.
You can ask questions like:
- "Get the attendees for event ID 12345."
- "List all attendees for the event with ID 67890."
`

const createEventPrompt = `
This tool creates a draft Eventbrite event under the configured organization.
It needs a name plus start and end times in RFC3339 format (for example 2025-03-01T18:00:00Z).
Timezone, description, currency, capacity and whether the event is online are optional.
You can ask questions like:
- "Create an event called Web3 Meetup on March 1st 2025 from 6pm to 8pm UTC."
`

const getClaimCodesPrompt = `
This tool retrieves claim codes (QR hashes) for a POAP event using the POAP API.
Always make sure to get the POAP event ID and the event's secret code.
Questions that can trigger this tool include:
- "Get the claim codes for POAP event ID 182857 with the secret code 517278."
- "Fetch the claim codes for POAP event 67890 using the secret code 112233."
`

const getClaimSecretPrompt = `
This tool retrieves the claim secret for a POAP QR hash using the POAP API.
Always make sure to get a valid claim code, i.e. the qr_hash.
Questions that can trigger this tool include:
- "Get the claim secret for the QR hash abc123def456."
`

const mintPOAPPrompt = `
This tool mints a POAP to an attendee using the POAP API. It requires the attendee's address
(Ethereum address, ENS, or email), the claim code (qr_hash), and the claim secret.
Always make sure to get a valid claim code and claim secret before trying to mint the POAP.
Questions that can trigger this tool include:
- "Mint a POAP to attendee@example.com using claim code xyz123 and secret abc456."
`

const walletDetailsPrompt = `
This tool returns the agent wallet's address and the network it belongs to.
`

const balancePrompt = `
This tool returns the native token balance of an address on the configured chain.
When no address is given the agent wallet is used.
`

const signMessagePrompt = `
This tool signs a text message with the agent wallet (EIP-191 personal_sign) and returns the signature.
`

const distributePrompt = `
This tool sends a POAP to every verified attendee of an Eventbrite event in one step:
it lists the attendees, keeps those who checked in and have an email, fetches unclaimed claim codes
for the POAP event and mints one to each attendee's email.
It needs the Eventbrite event ID, the POAP event ID and the POAP event's secret code.
Set dry_run to preview the assignment without minting, and include_all to include attendees who did not check in.
`

// SystemPrompt is the default instruction given to the model.
const SystemPrompt = "You are a helpful agent that can create Eventbrite events and manage those events using the Eventbrite API. " +
	"You can also interact with the POAP API and send POAPs, which are NFTs, to verified attendees of Eventbrite events " +
	"through the email addresses of all verified event attendees. You have an EVM wallet you can inspect and sign with. " +
	"You are empowered to interact with these external APIs using your tools. " +
	"If someone asks you to do something you can't do with your currently available tools, you must say so. " +
	"Be concise and helpful with your responses. Refrain from restating your tools' descriptions unless it is explicitly requested."

// AutonomousThought is sent on every tick of autonomous mode.
const AutonomousThought = "Be creative and do something interesting on the blockchain. " +
	"Choose an action or set of actions and execute it that highlights your abilities."
