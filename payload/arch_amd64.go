package payload

const nativeArch = X86_64
